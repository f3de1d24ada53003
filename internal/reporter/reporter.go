package reporter

import (
	"fmt"
	"sort"

	"grid-trader-go/internal/logger"
	"grid-trader-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Render 把余额快照渲染成状态表格, 每个交易对一行。
func Render(s *models.BalanceSnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Symbol", "Price", "Inventory", "Lots", "Realized", "Trading", "Cycles", "W/L"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Price", Align: text.AlignRight},
		{Name: "Inventory", Align: text.AlignRight},
		{Name: "Realized", Align: text.AlignRight},
		{Name: "Trading", Align: text.AlignRight},
	})

	symbols := make([]string, 0, len(s.Symbols))
	for sym := range s.Symbols {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		stat := s.Symbols[sym]
		t.AppendRow(table.Row{
			sym,
			fmt.Sprintf("%.4f", stat.LastPrice),
			fmt.Sprintf("%.6f", stat.Inventory),
			stat.OpenLots,
			fmt.Sprintf("%.4f", stat.RealizedPnl),
			fmt.Sprintf("%.4f", stat.TradingPnl),
			stat.CompletedCycles,
			fmt.Sprintf("%d/%d", stat.WinningTrades, stat.LosingTrades),
		})
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		"",
		"",
		fmt.Sprintf("%.4f", s.RealizedPnl),
		fmt.Sprintf("%.4f", s.TradingPnl),
		s.CompletedCycles,
		fmt.Sprintf("%d/%d", s.WinningTrades, s.LosingTrades),
	})
	return t.Render()
}

// Print 把状态表格和账户总览写进日志。
func Print(s *models.BalanceSnapshot) {
	status := "运行中"
	if s.Halted {
		status = "已熔断: " + s.HaltReason
	}
	logger.S().Infof("账户总览: 余额 %.4f, 总价值 %.4f, 初始 %.4f, 手续费 %.4f, 状态 %s\n%s",
		s.CurrentBalance, s.TotalValue, s.InitialBalance, s.FeesPaid, status, Render(s))
}
