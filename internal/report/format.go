// Package report renders allocation results and upgrade plans for people:
// calculator-style text and spreadsheet exports.
package report

import (
	"fmt"
	"strings"

	"armory-planner/internal/allocator"
	"armory-planner/internal/cost"
	"armory-planner/internal/plan"
)

var stopText = map[allocator.Stop]string{
	allocator.StopExhausted:   "全部满级",
	allocator.StopBudget:      "预算不足",
	allocator.StopConstrained: "受平衡约束限制",
}

// LevelLabel renders a level with its ladder label, e.g. "红色3级 (23)".
// Levels off the ladder or on unknown tracks print as bare numbers.
func LevelLabel(cat *cost.Catalog, track string, level int) string {
	t, err := cat.Track(track)
	if err != nil {
		return fmt.Sprint(level)
	}
	label, ok := t.Ladder().Label(level)
	if !ok {
		return fmt.Sprint(level)
	}
	return fmt.Sprintf("%s (%d)", label, level)
}

func trackLabel(cat *cost.Catalog, track string) string {
	if t, err := cat.Track(track); err == nil {
		return t.Label()
	}
	return track
}

// materialLine prints one bill as "木头 1000，精金 50" in catalog order,
// skipping zero amounts.
func materialLine(cat *cost.Catalog, b cost.Bill) string {
	var parts []string
	for _, m := range cat.Materials() {
		if n := b[m.Key]; n != 0 {
			parts = append(parts, fmt.Sprintf("%s %d", cat.MaterialLabel(m.Key), n))
		}
	}
	if len(parts) == 0 {
		return "无"
	}
	return strings.Join(parts, "，")
}

// FormatResult produces the text report of an allocation run.
func FormatResult(res allocator.Result, cat *cost.Catalog) string {
	var b strings.Builder

	status := "无可升级项"
	if res.Upgraded {
		status = "已升级"
	}
	fmt.Fprintf(&b, "结果：%s（%s）花费 %.1f，剩余 %.1f\n",
		status, stopText[res.Stop], res.Spent, res.Remaining)

	for _, g := range res.Groups {
		b.WriteString("===================\n")
		var mins []string
		for _, tl := range g.Tracks {
			mins = append(mins, fmt.Sprintf("%s最低 %s", trackLabel(cat, tl.Track), LevelLabel(cat, tl.Track, tl.Min)))
		}
		fmt.Fprintf(&b, "%s：%s", g.Group, strings.Join(mins, "，"))
		if g.RatioPercent > 0 {
			fmt.Fprintf(&b, "，比例 %.1f%%", g.RatioPercent)
		}
		b.WriteString("\n")

		for _, it := range res.Items {
			if it.Group != g.Group {
				continue
			}
			mark := ""
			if it.To > it.From {
				mark = fmt.Sprintf(" (+%d)", it.To-it.From)
			}
			fmt.Fprintf(&b, "  %s %s：%s -> %s%s\n", it.Name, trackLabel(cat, it.Track),
				LevelLabel(cat, it.Track, it.From), LevelLabel(cat, it.Track, it.To), mark)
		}
	}

	b.WriteString("===================\n")
	fmt.Fprintf(&b, "消耗：%s\n", materialLine(cat, res.Consumed))
	fmt.Fprintf(&b, "库存支付：%s\n", materialLine(cat, res.FromStock))
	fmt.Fprintf(&b, "兑换购买：%s\n", materialLine(cat, res.Bought))
	fmt.Fprintf(&b, "剩余库存：%s\n", materialLine(cat, res.Inventory))
	return b.String()
}

// FormatSteps lists every committed step, one per line.
func FormatSteps(res allocator.Result, cat *cost.Catalog) string {
	var b strings.Builder
	for _, s := range res.Steps {
		fmt.Fprintf(&b, "%3d. %s %s -> %s 花费 %.1f 剩余 %.1f\n", s.Seq, s.Item,
			LevelLabel(cat, s.Track, s.From), LevelLabel(cat, s.Track, s.To), s.Spent, s.Remaining)
	}
	return b.String()
}

// FormatPlan produces the text report of an upgrade plan.
func FormatPlan(p *plan.Plan, cat *cost.Catalog) string {
	var b strings.Builder
	for _, l := range p.Lines {
		fmt.Fprintf(&b, "%s %s：%s -> %s 需要 %s\n", l.Name, trackLabel(cat, l.Track),
			LevelLabel(cat, l.Track, l.From), LevelLabel(cat, l.Track, l.To), materialLine(cat, l.Need))
	}
	b.WriteString("===================\n")
	fmt.Fprintf(&b, "合计：%s\n", materialLine(cat, p.Need))
	fmt.Fprintf(&b, "库存可付：%s\n", materialLine(cat, p.Covered))
	fmt.Fprintf(&b, "缺口：%s\n", materialLine(cat, p.Shortfall))
	if len(p.Missing) > 0 {
		fmt.Fprintf(&b, "无法兑换：%s\n", materialLine(cat, p.Missing))
	}
	verdict := "足够"
	if !p.Affordable {
		verdict = "不足"
	}
	fmt.Fprintf(&b, "所需积分 %.1f / 预算 %.1f -> %s，剩余 %.1f\n", p.Points, p.Budget, verdict, p.Left)
	return b.String()
}
