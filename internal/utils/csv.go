package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"polyMarketBot/internal/domain"
)

var tradeHeader = []string{
	"id", "market_id", "strategy", "direction", "status",
	"entry_time", "entry_price", "size_usd", "quantity",
	"exit_time", "exit_price", "exit_reason", "pnl", "pnl_pct",
}

// WriteTradesCSV writes trades to w, one row per trade. Exit columns of open trades are empty.
func WriteTradesCSV(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)

	// Write header
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}

	for _, t := range trades {
		exitTime := ""
		if t.ExitTime != nil {
			exitTime = t.ExitTime.UTC().Format(time.RFC3339)
		}
		err := writer.Write([]string{
			t.ID,
			t.MarketID,
			t.Strategy,
			string(t.Direction),
			string(t.Status),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.EntryPrice.String(),
			t.SizeUSD.String(),
			t.Quantity.String(),
			exitTime,
			nullString(t.ExitPrice),
			string(t.ExitReason),
			nullString(t.PnL),
			nullString(t.PnLPct),
		})
		if err != nil {
			return fmt.Errorf("failed to write trade %s: %w", t.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesCSVFile creates filename and writes trades to it.
func WriteTradesCSVFile(filename string, trades []*domain.Trade) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(file, trades); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func nullString(n decimal.NullDecimal) string {
	if !n.Valid {
		return ""
	}
	return n.Decimal.String()
}
