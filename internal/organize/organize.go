package organize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"drover/internal/logging"
)

// Move is one planned relocation. Skip is set when the destination already
// holds a file of the same name; Apply never overwrites.
type Move struct {
	Src    string
	Dst    string
	Bucket string
	Reason string
	Skip   bool
}

// Plan describes what Apply would do to Root.
type Plan struct {
	Root  string
	Moves []Move
}

// Outcome records what happened to a single planned move.
type Outcome struct {
	Move   Move
	Status string // planned, moved, skipped, failed
	Err    string
}

// Summary aggregates an Apply run. In dry-run mode Moved counts the moves
// that would happen.
type Summary struct {
	DryRun   bool
	Moved    int
	Skipped  int
	Failed   int
	Outcomes []Outcome
}

// NewPlan scans the top level of root and matches files against the
// mappings. It never descends into subdirectories, so files already sorted
// into bucket directories are left alone. Dotfiles and unmatched files
// stay put.
func NewPlan(root string, mappings []Mapping) (*Plan, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("organize: read %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	plan := &Plan{Root: root}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		m, reason, ok := match(name, mappings)
		if !ok {
			logging.OrganizeDebug("no bucket for %s, leaving in place", name)
			continue
		}
		mv := Move{
			Src:    filepath.Join(root, name),
			Dst:    filepath.Join(root, m.Dir, name),
			Bucket: m.Dir,
			Reason: reason,
		}
		if _, err := os.Stat(mv.Dst); err == nil {
			mv.Skip = true
			mv.Reason = "destination exists"
		}
		plan.Moves = append(plan.Moves, mv)
	}
	logging.Organize("planned %d moves under %s", len(plan.Moves), root)
	return plan, nil
}

// Apply carries out the plan. With execute=false it only tallies what would
// happen and touches nothing on disk. With execute=true it creates bucket
// directories as needed and renames files into them, falling back to
// copy+remove when the rename crosses filesystems.
func Apply(ctx context.Context, plan *Plan, execute bool) (*Summary, error) {
	summary := &Summary{DryRun: !execute}
	for _, mv := range plan.Moves {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		switch {
		case mv.Skip:
			summary.Skipped++
			summary.Outcomes = append(summary.Outcomes, Outcome{Move: mv, Status: "skipped"})
			logging.Organize("skip %s (%s)", mv.Src, mv.Reason)
			if execute {
				logging.Audit().FileMove(mv.Src, mv.Dst, false, mv.Reason)
			}
		case !execute:
			summary.Moved++
			summary.Outcomes = append(summary.Outcomes, Outcome{Move: mv, Status: "planned"})
			logging.Organize("would move %s -> %s (%s)", mv.Src, mv.Dst, mv.Reason)
		default:
			if err := moveFile(mv.Src, mv.Dst); err != nil {
				summary.Failed++
				summary.Outcomes = append(summary.Outcomes, Outcome{Move: mv, Status: "failed", Err: err.Error()})
				logging.Get(logging.CategoryOrganize).Warn("move %s -> %s failed: %v", mv.Src, mv.Dst, err)
				logging.Audit().FileMove(mv.Src, mv.Dst, false, err.Error())
				continue
			}
			summary.Moved++
			summary.Outcomes = append(summary.Outcomes, Outcome{Move: mv, Status: "moved"})
			logging.Organize("moved %s -> %s (%s)", mv.Src, mv.Dst, mv.Reason)
			logging.Audit().FileMove(mv.Src, mv.Dst, true, mv.Reason)
		}
	}
	logging.Organize("organize done: moved=%d skipped=%d failed=%d dryRun=%v",
		summary.Moved, summary.Skipped, summary.Failed, summary.DryRun)
	return summary, nil
}

// Run plans and applies in one step.
func Run(ctx context.Context, root string, mappings []Mapping, execute bool) (*Plan, *Summary, error) {
	plan, err := NewPlan(root, mappings)
	if err != nil {
		return nil, nil, err
	}
	summary, err := Apply(ctx, plan, execute)
	return plan, summary, err
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create bucket dir: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return copyAndRemove(src, dst)
	}
	return fmt.Errorf("rename: %w", err)
}

// copyAndRemove handles renames across mount points.
func copyAndRemove(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("flush destination: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}
