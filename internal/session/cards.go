package session

import (
	"context"
	"slices"

	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/pkg/types"
)

// User card edits go straight to the store and bypass the event log. The
// local lists are updated once the store accepted the change.

// AddInstructionCard creates an instruction card.
func (s *Session) AddInstructionCard(ctx context.Context, card types.InstructionCard) (types.InstructionCard, error) {
	card, err := s.store.AddInstructionCard(ctx, s.gameID, card)
	if err != nil {
		return card, err
	}
	s.swap(func(st State) State {
		st.Instructions = put(st.Instructions, card)
		return st
	})
	return card, nil
}

// UpdateInstructionCard overwrites an instruction card.
func (s *Session) UpdateInstructionCard(ctx context.Context, card types.InstructionCard) error {
	if err := s.store.UpdateInstructionCard(ctx, s.gameID, card); err != nil {
		return err
	}
	s.swap(func(st State) State {
		st.Instructions = put(st.Instructions, card)
		return st
	})
	return nil
}

// DeleteInstructionCard removes an instruction card.
func (s *Session) DeleteInstructionCard(ctx context.Context, cardID int64) error {
	if err := s.store.DeleteInstructionCard(ctx, s.gameID, cardID); err != nil {
		return err
	}
	s.swap(func(st State) State {
		st.Instructions = drop(st.Instructions, cardID)
		return st
	})
	return nil
}

// AddPlotCard creates a plot card.
func (s *Session) AddPlotCard(ctx context.Context, card types.PlotCard) (types.PlotCard, error) {
	card, err := s.store.AddPlotCard(ctx, s.gameID, card)
	if err != nil {
		return card, err
	}
	s.swap(func(st State) State {
		st.Plots = put(st.Plots, card)
		return st
	})
	return card, nil
}

// UpdatePlotCard overwrites a plot card.
func (s *Session) UpdatePlotCard(ctx context.Context, card types.PlotCard) error {
	if err := s.store.UpdatePlotCard(ctx, s.gameID, card); err != nil {
		return err
	}
	s.swap(func(st State) State {
		st.Plots = put(st.Plots, card)
		return st
	})
	return nil
}

// DeletePlotCard removes a plot card.
func (s *Session) DeletePlotCard(ctx context.Context, cardID int64) error {
	if err := s.store.DeletePlotCard(ctx, s.gameID, cardID); err != nil {
		return err
	}
	s.swap(func(st State) State {
		st.Plots = drop(st.Plots, cardID)
		return st
	})
	return nil
}

// AddWorldCard creates a world card.
func (s *Session) AddWorldCard(ctx context.Context, card types.WorldCard) (types.WorldCard, error) {
	card, err := s.store.AddWorldCard(ctx, s.gameID, card)
	if err != nil {
		return card, err
	}
	s.swap(func(st State) State {
		st.World = put(st.World, card)
		return st
	})
	return card, nil
}

// UpdateWorldCard overwrites a world card, locked or not.
func (s *Session) UpdateWorldCard(ctx context.Context, card types.WorldCard) error {
	if err := s.store.UpdateWorldCard(ctx, s.gameID, card); err != nil {
		return err
	}
	s.swap(func(st State) State {
		st.World = put(st.World, card)
		return st
	})
	return nil
}

// DeleteWorldCard removes a world card. Main hero cards are refused by the
// store.
func (s *Session) DeleteWorldCard(ctx context.Context, cardID int64) error {
	if err := s.store.DeleteWorldCard(ctx, s.gameID, cardID); err != nil {
		return err
	}
	s.swap(func(st State) State {
		st.World = drop(st.World, cardID)
		return st
	})
	return nil
}

// put returns a copy of cards with card inserted or replaced, id-ordered.
func put[C cardlog.Card](cards []C, card C) []C {
	out := drop(cards, card.CardID())
	i, _ := slices.BinarySearchFunc(out, card.CardID(), func(c C, id int64) int {
		switch {
		case c.CardID() < id:
			return -1
		case c.CardID() > id:
			return 1
		}
		return 0
	})
	return slices.Insert(out, i, card)
}

// drop returns a copy of cards without the card with id.
func drop[C cardlog.Card](cards []C, id int64) []C {
	return slices.DeleteFunc(slices.Clone(cards), func(c C) bool { return c.CardID() == id })
}
