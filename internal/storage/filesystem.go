package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/azyu/talemind/pkg/types"
)

// Card families accepted in markdown front matter.
const (
	FamilyInstruction = "instruction"
	FamilyPlot        = "plot"
	FamilyWorld       = "world"
)

// CardFrontMatter is the YAML header of a markdown card file.
type CardFrontMatter struct {
	Family        string   `yaml:"family"`
	Title         string   `yaml:"title"`
	Triggers      []string `yaml:"triggers"`
	Kind          string   `yaml:"kind"`
	MemoryTurns   *int     `yaml:"memory_turns"`
	AlwaysActive  bool     `yaml:"always_active"`
	Locked        bool     `yaml:"locked"`
	AIEditEnabled *bool    `yaml:"ai_edit"`
}

// CardSet is a batch of cards read from disk.
type CardSet struct {
	Instructions []types.InstructionCard
	Plots        []types.PlotCard
	World        []types.WorldCard
}

// Len returns the number of cards in the set.
func (cs CardSet) Len() int {
	return len(cs.Instructions) + len(cs.Plots) + len(cs.World)
}

// FileSystem reads card files and writes exports under a base directory.
type FileSystem struct {
	basePath string
	md       goldmark.Markdown
}

// NewFileSystem creates a new file system handler.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{
		basePath: basePath,
		md:       goldmark.New(),
	}
}

// ListMarkdownFiles lists markdown files below dir, relative to the base path, sorted.
func (fs *FileSystem) ListMarkdownFiles(dir string) ([]string, error) {
	root := filepath.Join(fs.basePath, dir)

	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".md") {
			return nil
		}
		rel, _ := filepath.Rel(fs.basePath, path)
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list markdown files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// LoadCards parses every markdown file below dir into cards.
func (fs *FileSystem) LoadCards(dir string) (CardSet, error) {
	var set CardSet

	files, err := fs.ListMarkdownFiles(dir)
	if err != nil {
		return set, err
	}
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(fs.basePath, rel))
		if err != nil {
			return set, fmt.Errorf("failed to read card file: %w", err)
		}
		if err := fs.addCard(&set, rel, string(data)); err != nil {
			return set, fmt.Errorf("%s: %w", rel, err)
		}
	}
	return set, nil
}

func (fs *FileSystem) addCard(set *CardSet, rel, content string) error {
	rawMeta, body := ParseMarkdownFrontmatter(content)

	var meta CardFrontMatter
	if rawMeta != "" {
		if err := yaml.Unmarshal([]byte(rawMeta), &meta); err != nil {
			return fmt.Errorf("invalid front matter: %w", err)
		}
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		if h1 := fs.ParseMarkdownTitle(body); h1 != "" {
			title = h1
			body = stripFirstHeading(body)
		}
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	}

	switch strings.ToLower(meta.Family) {
	case FamilyInstruction:
		set.Instructions = append(set.Instructions, types.InstructionCard{Title: title, Content: body})

	case FamilyPlot:
		set.Plots = append(set.Plots, types.PlotCard{Title: title, Content: body, Source: types.SourceUser})

	case FamilyWorld, "":
		kind := types.WorldKind(strings.ToLower(meta.Kind))
		if kind == "" {
			kind = types.KindWorld
		}
		if !types.ValidKind(kind) {
			return fmt.Errorf("unknown kind %q", meta.Kind)
		}
		card := types.NewWorldCard(title, body, kind, meta.Triggers...)
		if meta.MemoryTurns != nil {
			card.MemoryTurns = types.IntPtr(*meta.MemoryTurns)
		}
		if meta.AlwaysActive {
			card.MemoryTurns = nil
		}
		card.IsLocked = meta.Locked
		if meta.AIEditEnabled != nil {
			card.AIEditEnabled = *meta.AIEditEnabled
		}
		set.World = append(set.World, card)

	default:
		return fmt.Errorf("unknown card family %q", meta.Family)
	}
	return nil
}

// ImportCards stores every card of set into a game and returns the stored set.
func (s *SQLiteDB) ImportCards(ctx context.Context, gameID int64, set CardSet) (CardSet, error) {
	var out CardSet
	for _, c := range set.Instructions {
		stored, err := s.AddInstructionCard(ctx, gameID, c)
		if err != nil {
			return out, err
		}
		out.Instructions = append(out.Instructions, stored)
	}
	for _, c := range set.Plots {
		stored, err := s.AddPlotCard(ctx, gameID, c)
		if err != nil {
			return out, err
		}
		out.Plots = append(out.Plots, stored)
	}
	for _, c := range set.World {
		stored, err := s.AddWorldCard(ctx, gameID, c)
		if err != nil {
			return out, err
		}
		out.World = append(out.World, stored)
	}
	return out, nil
}

// ExportTranscript writes a game's transcript as markdown. The file is
// replaced only once the whole transcript is written.
func (fs *FileSystem) ExportTranscript(relativePath string, game types.Game, messages []types.Message) (err error) {
	w, err := NewAtomicWriter(filepath.Join(fs.basePath, relativePath), 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	out := bufio.NewWriter(w)
	fmt.Fprintf(out, "# %s\n", game.Name)
	turn := -1
	for _, msg := range types.AssignTurns(types.SortMessages(messages)) {
		if msg.Turn != turn {
			turn = msg.Turn
			if turn > 0 {
				fmt.Fprintf(out, "\n## Turn %d\n", turn)
			}
		}
		label := "Narrator"
		if msg.Role == types.RoleUser {
			label = "You"
		}
		fmt.Fprintf(out, "\n**%s:** %s\n", label, strings.TrimSpace(msg.Content))
	}
	if err = out.Flush(); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return w.Commit()
}

// ParseMarkdownTitle extracts the first H1 title from markdown content.
func (fs *FileSystem) ParseMarkdownTitle(content string) string {
	reader := text.NewReader([]byte(content))
	doc := fs.md.Parser().Parse(reader)

	var title string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if heading, ok := n.(*ast.Heading); ok && entering && heading.Level == 1 {
			title = string(heading.Text([]byte(content)))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(title)
}

// ParseMarkdownFrontmatter splits YAML front matter from the body.
func ParseMarkdownFrontmatter(content string) (string, string) {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return "", strings.TrimSpace(content)
	}

	end := 0
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == 0 {
		return "", strings.TrimSpace(content)
	}

	frontmatter := strings.Join(lines[1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")
	return frontmatter, strings.TrimSpace(body)
}

func stripFirstHeading(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "# ") {
			return strings.TrimSpace(strings.Join(append(lines[:i:i], lines[i+1:]...), "\n"))
		}
	}
	return body
}

// BasePath returns the base path of the filesystem.
func (fs *FileSystem) BasePath() string {
	return fs.basePath
}
