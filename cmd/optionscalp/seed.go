package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"optionscalp/config"
	"optionscalp/internal/instruments"
	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
	sqlitestore "optionscalp/internal/store/sqlite"
)

// seedIndex describes a synthetic underlying.
type seedIndex struct {
	Symbol string
	Spot   float64
	Lot    int
}

var seedIndices = map[string]seedIndex{
	"NIFTY":     {Symbol: "Nifty 50", Spot: 24000, Lot: 75},
	"BANKNIFTY": {Symbol: "Nifty Bank", Spot: 51000, Lot: 30},
}

func newSeedCmd(cfg *config.Config) *cobra.Command {
	var (
		und    string
		date   string
		master string
		seed   int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a synthetic trading day and a matching instrument master",
		Long: `seed generates one day of 1-minute bars for an index and its ATM call and
put, plus PCR history, into the bar database, and writes a scrip master JSON
listing the three instruments. Point INSTRUMENT_URL at file://<master> to run
backtests and replays fully offline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, ok := seedIndices[strings.ToUpper(und)]
			if !ok {
				return fmt.Errorf("seed: unknown underlying %q", und)
			}
			day := lastTradingDay(time.Now())
			if date != "" {
				d, err := time.ParseInLocation("2006-01-02", date, markethours.IST)
				if err != nil {
					return fmt.Errorf("date %q: %w", date, err)
				}
				day = d
			}

			g := synthDay(strings.ToUpper(und), ix, day, rand.New(rand.NewSource(seed)))

			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return err
			}
			w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
			if err != nil {
				return err
			}
			defer w.Close()
			ctx := cmd.Context()
			if err := w.SaveBars(ctx, g.bars); err != nil {
				return err
			}
			if err := w.SavePCR(ctx, ix.Symbol, g.pcr); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(master), 0o755); err != nil {
				return err
			}
			data, err := json.MarshalIndent(g.master, "", " ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(master, data, 0o644); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s: %d bars for %s, %s, %s into %s\nmaster: %s\n",
				day.Format("2006-01-02"), len(g.bars), ix.Symbol, g.ce, g.pe, cfg.SQLitePath, master)
			return nil
		},
	}
	cmd.Flags().StringVar(&und, "underlying", "NIFTY", "NIFTY or BANKNIFTY")
	cmd.Flags().StringVar(&date, "date", "", "Trading day YYYY-MM-DD (last trading day when empty)")
	cmd.Flags().StringVar(&master, "master", "data/master.json", "Where to write the scrip master JSON")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	return cmd
}

// lastTradingDay returns the most recent trading day strictly before t.
func lastTradingDay(t time.Time) time.Time {
	d := t.In(markethours.IST).AddDate(0, 0, -1)
	for !markethours.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// weeklyExpiry returns the Thursday on or after day.
func weeklyExpiry(day time.Time) time.Time {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, markethours.IST)
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

type masterRow struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

type synthetic struct {
	ce, pe string
	bars   []model.Candle
	pcr    []model.PCRPoint
	master []masterRow
}

func tick05(p float64) float64 {
	p = math.Round(p*20) / 20
	if p < 0.05 {
		return 0.05
	}
	return p
}

// synthDay random-walks the index through the session and prices the
// legs off it with a delta of one half.
func synthDay(und string, ix seedIndex, day time.Time, rng *rand.Rand) synthetic {
	open := markethours.SessionOpen(day)
	end := markethours.TodayClose(day)
	strike := instruments.ATMStrike(und, ix.Spot)
	expiry := weeklyExpiry(day)
	code := strings.ToUpper(expiry.Format("02Jan06"))

	s := synthetic{
		ce: fmt.Sprintf("%s%s%dCE", und, code, int(strike)),
		pe: fmt.Sprintf("%s%s%dPE", und, code, int(strike)),
	}
	s.master = []masterRow{
		{Token: "99926000", Symbol: ix.Symbol, Name: und, Strike: "0.000000", LotSize: "1", InstrumentType: "AMXIDX", ExchSeg: "NSE"},
	}
	for i, sym := range []string{s.ce, s.pe} {
		s.master = append(s.master, masterRow{
			Token:          fmt.Sprintf("%d", 40000+i),
			Symbol:         sym,
			Name:           und,
			Expiry:         strings.ToUpper(expiry.Format("02Jan2006")),
			Strike:         fmt.Sprintf("%.6f", strike*100),
			LotSize:        fmt.Sprintf("%d", ix.Lot),
			InstrumentType: "OPTIDX",
			ExchSeg:        "NFO",
		})
	}

	step := ix.Spot * 0.0006
	idx := ix.Spot
	cePrem, pePrem := ix.Spot*0.005, ix.Spot*0.0046
	prevIdx := idx
	pcr := 1.0

	for t := open; t.Before(end); t = t.Add(time.Minute) {
		move := rng.NormFloat64() * step
		next := idx + move
		s.bars = append(s.bars, bar(ix.Symbol, t, idx, next, step*0.4, rng, 0))

		ceNext := tick05(cePrem + move*0.5 + rng.NormFloat64()*0.3)
		peNext := tick05(pePrem - move*0.5 + rng.NormFloat64()*0.3)
		s.bars = append(s.bars, bar(s.ce, t, cePrem, ceNext, 0.8, rng, int64(500+rng.Intn(5000))))
		s.bars = append(s.bars, bar(s.pe, t, pePrem, peNext, 0.8, rng, int64(500+rng.Intn(5000))))
		idx, cePrem, pePrem = next, ceNext, peNext

		if t.Sub(open)%(15*time.Minute) == 0 {
			dOI := rng.NormFloat64()
			pcr = math.Max(0.4, math.Min(1.8, pcr+rng.NormFloat64()*0.05))
			s.pcr = append(s.pcr, model.PCRPoint{
				TS:      t,
				PCR:     math.Round(pcr*100) / 100,
				Buildup: model.ClassifyBuildup(idx-prevIdx, dOI),
			})
			prevIdx = idx
		}
	}
	return s
}

func bar(symbol string, t time.Time, open, close, wick float64, rng *rand.Rand, vol int64) model.Candle {
	hi := math.Max(open, close) + math.Abs(rng.NormFloat64())*wick
	lo := math.Min(open, close) - math.Abs(rng.NormFloat64())*wick
	return model.Candle{
		Symbol:   symbol,
		OpenTime: t.UTC(),
		Open:     tick05(open),
		High:     tick05(hi),
		Low:      tick05(lo),
		Close:    tick05(close),
		Volume:   vol,
	}
}
