package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
)

// drillSUT is the system under test. Reload replaces svc with a fresh
// service over the same file.
type drillSUT struct {
	svc  *DrillService
	path string
	t    *testing.T
}

// deckModel is the model state: card fronts in collection order and grades
// in the current round. Deleting a card drops its reviews, so reviews is an
// upper bound on what the tracker holds.
type deckModel struct {
	fronts  []string
	graded  int
	reviews int
}

func (m deckModel) with(fronts []string) deckModel {
	return deckModel{fronts: fronts, reviews: m.reviews}
}

// observed is what every command reads back from the service
type observed struct {
	err      error
	fronts   []string
	total    int
	answered int
	reviews  int
}

func observe(sut *drillSUT, err error) observed {
	o := observed{err: err}
	for _, c := range sut.svc.ListCards("", "") {
		o.fronts = append(o.fronts, c.Front)
	}
	view := sut.svc.Status()
	o.total = view.Total
	o.answered = view.Answered
	o.reviews = sut.svc.ProgressReport(0).Stats.TotalReviews
	return o
}

// matches compares an observation with the model. gopter hands
// PostCondition the state after NextState has been applied.
func matches(label string, m deckModel, result commands.Result) *gopter.PropResult {
	o := result.(observed)
	ok := o.err == nil &&
		len(o.fronts) == len(m.fronts) &&
		o.total == len(m.fronts) &&
		o.answered == m.graded &&
		o.reviews >= m.graded &&
		o.reviews <= m.reviews
	for i := 0; ok && i < len(m.fronts); i++ {
		ok = o.fronts[i] == m.fronts[i]
	}
	if !ok {
		return gopter.NewPropResult(false, fmt.Sprintf("%s: observed %+v, model %+v", label, o, m))
	}
	return gopter.NewPropResult(true, label)
}

func createCardCmd(front string) commands.Command {
	next := func(state commands.State) commands.State {
		m := state.(deckModel)
		return m.with(append([]string{front}, m.fronts...))
	}
	return &commands.ProtoCommand{
		Name: fmt.Sprintf("CreateCard(%q)", front),
		RunFunc: func(sut commands.SystemUnderTest) commands.Result {
			s := sut.(*drillSUT)
			_, err := s.svc.CreateCard(front, front+"-pt", "")
			return observe(s, err)
		},
		NextStateFunc: next,
		PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
			return matches("create", state.(deckModel), result)
		},
	}
}

func deleteCardCmd(index int) commands.Command {
	next := func(state commands.State) commands.State {
		m := state.(deckModel)
		fronts := append([]string{}, m.fronts[:index]...)
		return m.with(append(fronts, m.fronts[index+1:]...))
	}
	return &commands.ProtoCommand{
		Name: fmt.Sprintf("DeleteCard(%d)", index),
		RunFunc: func(sut commands.SystemUnderTest) commands.Result {
			s := sut.(*drillSUT)
			all := s.svc.ListCards("", "")
			if index >= len(all) {
				return observe(s, fmt.Errorf("no card at %d", index))
			}
			return observe(s, s.svc.DeleteCard(all[index].ID))
		},
		PreConditionFunc: func(state commands.State) bool {
			return index < len(state.(deckModel).fronts)
		},
		NextStateFunc: next,
		PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
			return matches("delete", state.(deckModel), result)
		},
	}
}

// importCardsCmd imports one entry per text; empty texts are skipped
func importCardsCmd(texts []string) commands.Command {
	next := func(state commands.State) commands.State {
		m := state.(deckModel)
		var accepted []string
		for _, text := range texts {
			if text != "" {
				accepted = append(accepted, text)
			}
		}
		if len(accepted) == 0 {
			return m
		}
		return m.with(append(accepted, m.fronts...))
	}
	return &commands.ProtoCommand{
		Name: fmt.Sprintf("ImportCards(%q)", texts),
		RunFunc: func(sut commands.SystemUnderTest) commands.Result {
			s := sut.(*drillSUT)
			entries := make([]map[string]string, len(texts))
			for i, text := range texts {
				entries[i] = map[string]string{"front": text, "back": text}
			}
			data, err := json.Marshal(entries)
			if err != nil {
				return observe(s, err)
			}
			_, err = s.svc.ImportCards(data)
			return observe(s, err)
		},
		NextStateFunc: next,
		PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
			return matches("import", state.(deckModel), result)
		},
	}
}

func gradeCmd(correct bool) commands.Command {
	next := func(state commands.State) commands.State {
		m := state.(deckModel)
		m.graded++
		m.reviews++
		return m
	}
	return &commands.ProtoCommand{
		Name: fmt.Sprintf("Grade(%v)", correct),
		RunFunc: func(sut commands.SystemUnderTest) commands.Result {
			s := sut.(*drillSUT)
			if _, err := s.svc.Reveal("show"); err != nil {
				return observe(s, err)
			}
			_, _, err := s.svc.Grade(correct)
			return observe(s, err)
		},
		PreConditionFunc: func(state commands.State) bool {
			m := state.(deckModel)
			return m.graded < len(m.fronts)
		},
		NextStateFunc: next,
		PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
			return matches("grade", state.(deckModel), result)
		},
	}
}

var reloadCmd = &commands.ProtoCommand{
	Name: "Reload",
	RunFunc: func(sut commands.SystemUnderTest) commands.Result {
		s := sut.(*drillSUT)
		s.svc.Close()
		s.svc = openTestService(s.t, s.path, nil, nil)
		return observe(s, nil)
	},
	NextStateFunc: func(state commands.State) commands.State {
		m := state.(deckModel)
		return m.with(m.fronts)
	},
	PostConditionFunc: func(state commands.State, result commands.Result) *gopter.PropResult {
		return matches("reload", state.(deckModel), result)
	},
}

var importTexts = []string{"", "um", "dois", "tres"}

// TestCommandSequences checks the service against the deck model over
// random command sequences, including restarts from the persisted file.
func TestCommandSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.MaxSize = 15

	protoCmds := &commands.ProtoCommands{
		InitialStateGen: gen.Const(deckModel{}),
		NewSystemUnderTestFunc: func(commands.State) commands.SystemUnderTest {
			path := filepath.Join(t.TempDir(), "langdrill-property.json")
			return &drillSUT{svc: openTestService(t, path, nil, nil), path: path, t: t}
		},
		DestroySystemUnderTestFunc: func(sut commands.SystemUnderTest) {
			sut.(*drillSUT).svc.Close()
		},
		GenCommandFunc: func(state commands.State) gopter.Gen {
			m := state.(deckModel)
			weighted := []gen.WeightedGen{
				{Weight: 4, Gen: gen.Identifier().Map(func(front string) commands.Command { return createCardCmd(front) })},
				{Weight: 2, Gen: gen.SliceOfN(3, gen.IntRange(0, len(importTexts)-1).Map(func(i int) string { return importTexts[i] })).
					Map(func(texts []string) commands.Command { return importCardsCmd(texts) })},
				{Weight: 1, Gen: gen.Const(commands.Command(reloadCmd))},
			}
			if len(m.fronts) > 0 {
				weighted = append(weighted, gen.WeightedGen{
					Weight: 2,
					Gen:    gen.IntRange(0, len(m.fronts)-1).Map(func(i int) commands.Command { return deleteCardCmd(i) }),
				})
			}
			if m.graded < len(m.fronts) {
				weighted = append(weighted, gen.WeightedGen{
					Weight: 4,
					Gen:    gen.Bool().Map(func(correct bool) commands.Command { return gradeCmd(correct) }),
				})
			}
			return gen.Weighted(weighted)
		},
	}

	properties := gopter.NewProperties(parameters)
	properties.Property("deck, round and progress follow the model", commands.Prop(protoCmds))
	properties.TestingRun(t)
}
