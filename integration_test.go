//go:build !lambda

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"armory-planner/internal/allocator"
	"armory-planner/internal/archive"
	"armory-planner/internal/service"
)

const requestPath = "testdata/request.json"

func loadTestRequest(t *testing.T) (*app, *archive.Request, []byte) {
	t.Helper()
	a, err := newApp("", nil, false)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)

	raw, err := readRequest(requestPath, nil)
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	req, err := a.svc.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return a, req, raw
}

// verifyResult runs the allocation checklist against a finished run.
func verifyResult(t *testing.T, a *app, in allocator.Input, res allocator.Result) {
	t.Helper()
	cat := a.svc.Catalog()

	// 1. budget accounting
	if res.Spent < 0 || res.Spent > in.Budget+1e-9 {
		t.Errorf("spent %.2f outside [0, %.2f]", res.Spent, in.Budget)
	}
	if math.Abs(res.Spent+res.Remaining-in.Budget) > 1e-6 {
		t.Errorf("spent %.2f + remaining %.2f != budget %.2f", res.Spent, res.Remaining, in.Budget)
	}

	levels := map[string]int{}
	group := map[string]string{}
	track := map[string]string{}
	for _, it := range in.Items {
		levels[it.Name] = it.Level
		group[it.Name] = it.Group
		track[it.Name] = it.Track
	}
	groupMin := func(g, tr string) (int, bool) {
		lo, found := 0, false
		for name, lv := range levels {
			if group[name] == g && track[name] == tr && (!found || lv < lo) {
				lo, found = lv, true
			}
		}
		return lo, found
	}

	for _, s := range res.Steps {
		prefix := fmt.Sprintf("step %d (%s)", s.Seq, s.Item)

		// 2. one level per step, from the item's current level
		if s.From != levels[s.Item] || s.To != s.From+1 {
			t.Errorf("%s: %d -> %d, item was at %d", prefix, s.From, s.To, levels[s.Item])
		}

		// 3. ratio held before every base-track step
		if r := in.Constraints.Ratio; r != nil && r.Enforce && s.Track == r.Base {
			base, _ := groupMin(s.Group, r.Base)
			sub, ok := groupMin(s.Group, r.Track)
			if ok && base > 0 && sub*100 < r.Percent*base {
				t.Errorf("%s: %s ratio %d/%d below %d%%", prefix, s.Group, sub, base, r.Percent)
			}
		}

		levels[s.Item] = s.To

		// 4. leaders stay within their lead
		for _, p := range in.Constraints.Pairings {
			if p.Track != s.Track || p.Leader != s.Group {
				continue
			}
			if lag, ok := groupMin(p.Lagger, p.Track); ok && s.To-lag > p.MaxLead {
				t.Errorf("%s: leads %s by %d, max %d", prefix, p.Lagger, s.To-lag, p.MaxLead)
			}
		}
	}

	// 5. final levels match the replay and stay on the ladder
	for _, it := range res.Items {
		if it.To != levels[it.Name] {
			t.Errorf("item %s: result %d, replay %d", it.Name, it.To, levels[it.Name])
		}
		tr, err := cat.Track(it.Track)
		if err != nil {
			t.Errorf("item %s: %v", it.Name, err)
			continue
		}
		if it.To < it.From || it.To > tr.MaxLevel() {
			t.Errorf("item %s: %d -> %d outside ladder (max %d)", it.Name, it.From, it.To, tr.MaxLevel())
		}
	}

	// 6. materials: consumed = from stock + bought, stock never negative
	for m, n := range res.Consumed {
		if n != res.FromStock[m]+res.Bought[m] {
			t.Errorf("material %s: consumed %d != stock %d + bought %d", m, n, res.FromStock[m], res.Bought[m])
		}
		if left := in.Inventory[m] - res.FromStock[m]; left != res.Inventory[m] || left < 0 {
			t.Errorf("material %s: inventory left %d, want %d", m, res.Inventory[m], left)
		}
	}

	// 7. stop reason agrees with the final state
	if res.Stop == allocator.StopExhausted {
		for _, it := range res.Items {
			tr, _ := cat.Track(it.Track)
			if tr != nil && it.To < tr.MaxLevel() {
				t.Errorf("stop exhausted but %s at %d < %d", it.Name, it.To, tr.MaxLevel())
			}
		}
	}
	if res.Upgraded != (len(res.Steps) > 0) {
		t.Errorf("upgraded=%v with %d steps", res.Upgraded, len(res.Steps))
	}
}

func TestAllocateRequest(t *testing.T) {
	a, req, raw := loadTestRequest(t)
	resp, err := a.svc.Allocate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	t.Logf("stop=%s steps=%d spent=%.1f", resp.Result.Stop, len(resp.Result.Steps), resp.Result.Spent)
	if !resp.Result.Upgraded {
		t.Fatalf("expected at least one step")
	}
	verifyResult(t, a, req.Input, resp.Result)

	budgets := []float64{0, 500, 5000, 50000}
	if testing.Short() {
		budgets = budgets[:2]
	}
	for _, b := range budgets {
		t.Run(fmt.Sprintf("budget_%.0f", b), func(t *testing.T) {
			in := req.Input
			in.Budget = b
			res, err := allocator.Allocate(in)
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			verifyResult(t, a, in, res)
		})
	}
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("armory %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestCLI(t *testing.T) {
	hist := filepath.Join(t.TempDir(), "runs.db")

	var resp service.AllocateResponse
	if err := json.Unmarshal([]byte(runCLI(t, "allocate", requestPath, "--json", "--history", hist)), &resp); err != nil {
		t.Fatalf("decode allocate output: %v", err)
	}
	if resp.RunID == 0 {
		t.Errorf("allocate did not record a run")
	}

	text := runCLI(t, "allocate", requestPath, "--steps", "--xlsx", filepath.Join(t.TempDir(), "out.xlsx"))
	for _, want := range []string{"结果：", "步兵", "TOTAL"} {
		if !strings.Contains(text, want) {
			t.Errorf("allocate output missing %q", want)
		}
	}

	if out := runCLI(t, "plan", requestPath); !strings.Contains(out, "步兵-weapon-upper") {
		t.Errorf("plan output missing target:\n%s", out)
	}
	if out := runCLI(t, "levels", "weapon"); !strings.Contains(out, "红色30级") {
		t.Errorf("levels output missing top rung")
	}
	if out := runCLI(t, "history", "--history", hist); !strings.Contains(out, "allocate") {
		t.Errorf("history output missing run:\n%s", out)
	}
}

func TestCLIRejectsBadRequest(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`{"budget": "lots"}`))
	cmd.SetArgs([]string{"allocate", "-"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected an error for an invalid request")
	}
}
