package ux

import (
	"fmt"

	"github.com/mikehostetler/wreckit/internal/item"
)

// RenderStatus prints the full status display for one item: core fields,
// then the story list colored by status, then recorded phase timings.
func RenderStatus(it *item.Item, timing *struct{ Entries []TimingView }) {
	fmt.Printf("%sItem:%s     %s\n", Bold, Reset, it.ID)
	fmt.Printf("%sTitle:%s    %s\n", Bold, Reset, it.Title)
	fmt.Printf("%sState:%s    %s\n", Bold, Reset, it.State)
	if it.Branch != "" {
		fmt.Printf("%sBranch:%s   %s\n", Bold, Reset, it.Branch)
	}
	if it.PRURL != "" {
		fmt.Printf("%sPR:%s       %s\n", Bold, Reset, it.PRURL)
	}
	if it.LastError != "" {
		fmt.Printf("%sLastErr:%s  %s%s%s\n", Bold, Reset, Red, it.LastError, Reset)
	}

	if it.PRD != nil && len(it.PRD.Stories) > 0 {
		fmt.Printf("\n%sStories:%s\n", Bold, Reset)
		for _, s := range it.PRD.Stories {
			color := Dim
			switch s.Status {
			case item.StoryDone:
				color = Green
			case item.StoryInProgress:
				color = Yellow
			case item.StoryBlocked:
				color = Red
			}
			fmt.Printf("  %s%-12s%s %s\n", color, s.Status, Reset, s.Title)
		}
	}

	if timing != nil {
		fmt.Printf("\n%sTiming:%s\n", Bold, Reset)
		for _, e := range timing.Entries {
			fmt.Printf("  %-12s %s\n", e.Phase, e.Duration)
		}
	}
	fmt.Println()
}

// TimingView is the minimal projection RenderStatus needs from
// phaserunner.Timing, kept here to avoid ux importing phaserunner.
type TimingView struct {
	Phase    string
	Duration string
}

// RenderList prints a compact table of item summaries.
func RenderList(items []item.Summary) {
	if len(items) == 0 {
		fmt.Printf("%s(no items)%s\n", Dim, Reset)
		return
	}
	for _, s := range items {
		fmt.Printf("%-28s %-14s %s\n", s.ID, s.State, s.Title)
	}
}
