package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/talemind/pkg/types"
)

// =============================================================================
// TestAtomicWriteFile
// =============================================================================

func TestAtomicWriteFile(t *testing.T) {
	t.Run("writes file and verifies content", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "nested", "test.txt")

		require.NoError(t, AtomicWriteFile(target, []byte("Hello, World!")))

		got, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "Hello, World!", string(got))
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "overwrite.txt")
		require.NoError(t, AtomicWriteFile(target, []byte("original content")))
		require.NoError(t, AtomicWriteFile(target, []byte("new")))

		got, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("applies mode", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "secret.yaml")
		require.NoError(t, AtomicWriteFileMode(target, []byte("k: v"), 0600))

		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("abort leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		w, err := NewAtomicWriter(filepath.Join(dir, "x.txt"), 0644)
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		require.NoError(t, err)
		require.NoError(t, w.Abort())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("commit is final", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "once.txt")
		w, err := NewAtomicWriter(target, 0644)
		require.NoError(t, err)
		_, err = w.WriteString("once")
		require.NoError(t, err)
		require.NoError(t, w.Commit())

		assert.ErrorIs(t, w.Commit(), os.ErrClosed)
		require.NoError(t, w.Abort())
		got, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "once", string(got))
	})
}

// =============================================================================
// TestFileSystem
// =============================================================================

func writeCard(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestFileSystem_LoadCards(t *testing.T) {
	base := t.TempDir()
	cards := filepath.Join(base, "cards")

	writeCard(t, cards, "01-tone.md", `---
family: instruction
title: Tone
---
Keep it grim.`)
	writeCard(t, cards, "02-ambush.md", `---
family: plot
---
# Ambush

Bandits attacked the caravan.`)
	writeCard(t, cards, "03-mira.md", `---
title: Mira
kind: npc
triggers: [mira, the smuggler]
locked: true
---
A smuggler with a debt.`)
	writeCard(t, filepath.Join(cards, "places"), "harbor.md", `Salt and tar.`)
	writeCard(t, cards, "04-hero.md", `---
title: Aria
kind: main_hero
---
The player.`)
	writeCard(t, cards, "notes.txt", "ignored")

	fs := NewFileSystem(base)
	set, err := fs.LoadCards("cards")
	require.NoError(t, err)
	assert.Equal(t, 5, set.Len())

	require.Len(t, set.Instructions, 1)
	assert.Equal(t, types.InstructionCard{Title: "Tone", Content: "Keep it grim."}, set.Instructions[0])

	require.Len(t, set.Plots, 1)
	assert.Equal(t, "Ambush", set.Plots[0].Title, "title falls back to the first heading")
	assert.Equal(t, "Bandits attacked the caravan.", set.Plots[0].Content)
	assert.Equal(t, types.SourceUser, set.Plots[0].Source)

	require.Len(t, set.World, 3)
	mira := set.World[0]
	assert.Equal(t, "Mira", mira.Title)
	assert.Equal(t, types.KindNPC, mira.Kind)
	assert.Equal(t, []string{"mira", "the smuggler"}, mira.Triggers)
	require.NotNil(t, mira.MemoryTurns)
	assert.Equal(t, types.DefaultNPCMemoryTurns, *mira.MemoryTurns)
	assert.True(t, mira.IsLocked)

	hero := set.World[1]
	assert.Equal(t, types.KindMainHero, hero.Kind)
	assert.Nil(t, hero.MemoryTurns)

	harbor := set.World[2]
	assert.Equal(t, "harbor", harbor.Title, "title falls back to the file name")
	assert.Equal(t, types.KindWorld, harbor.Kind)
}

func TestFileSystem_LoadCardsErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown family", content: "---\nfamily: lore\n---\nx"},
		{name: "unknown kind", content: "---\nkind: villain\n---\nx"},
		{name: "bad yaml", content: "---\ntriggers: [a\n---\nx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := t.TempDir()
			writeCard(t, base, "card.md", tt.content)

			_, err := NewFileSystem(base).LoadCards(".")
			assert.Error(t, err)
		})
	}
}

func TestFileSystem_MissingDirIsEmpty(t *testing.T) {
	set, err := NewFileSystem(t.TempDir()).LoadCards("nope")
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestParseMarkdownFrontmatter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantMeta string
		wantBody string
	}{
		{name: "with front matter", content: "---\ntitle: A\n---\n\nBody", wantMeta: "title: A", wantBody: "Body"},
		{name: "no front matter", content: "  Just text \n", wantBody: "Just text"},
		{name: "unterminated", content: "---\ntitle: A\nBody", wantBody: "---\ntitle: A\nBody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body := ParseMarkdownFrontmatter(tt.content)
			assert.Equal(t, tt.wantMeta, meta)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestFileSystem_ExportTranscript(t *testing.T) {
	base := t.TempDir()
	fs := NewFileSystem(base)

	messages := []types.Message{
		{ID: 3, Role: types.RoleUser, Content: "I draw my sword."},
		{ID: 1, Role: types.RoleAssistant, Content: "The harbor is quiet."},
		{ID: 2, Role: types.RoleUser, Content: "I look around."},
	}
	require.NoError(t, fs.ExportTranscript("out/story.md", types.Game{Name: "Harbor"}, messages))

	got, err := os.ReadFile(filepath.Join(base, "out", "story.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Harbor\n"+
		"\n**Narrator:** The harbor is quiet.\n"+
		"\n## Turn 1\n"+
		"\n**You:** I look around.\n"+
		"\n## Turn 2\n"+
		"\n**You:** I draw my sword.\n", string(got))
}
