package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"optionscalp/config"
	"optionscalp/internal/instruments"
	"optionscalp/internal/markethours"
	"optionscalp/internal/marketdata/replay"
	"optionscalp/internal/model"
	"optionscalp/internal/portfolio"
	"optionscalp/internal/sentiment"
	"optionscalp/internal/session"
	sqlitestore "optionscalp/internal/store/sqlite"
)

// dayFlags select one historical day for an index triple. Empty CE/PE are
// resolved from the instrument master at the day's opening spot.
type dayFlags struct {
	Underlying string
	Index      string
	CE         string
	PE         string
	Date       string
}

type day struct {
	Date      string
	Index     string
	CE        string
	PE        string
	Tape      []model.Candle
	Sentiment sentiment.Provider
}

func instrumentCache(cfg *config.Config) *instruments.Cache {
	var f instruments.Fetcher
	if path, ok := strings.CutPrefix(cfg.InstrumentURL, "file://"); ok {
		f = instruments.FileFetcher(path)
	} else {
		f = instruments.NewHTTPFetcher(cfg.InstrumentURL, 0)
	}
	return instruments.NewCache(f, cfg.InstrumentTTL)
}

func loadDay(ctx context.Context, cfg *config.Config, reader *sqlitestore.Reader, f dayFlags) (day, error) {
	d := day{Date: f.Date, Index: f.Index, CE: f.CE, PE: f.PE}
	und := strings.ToUpper(f.Underlying)

	var cache *instruments.Cache
	if d.Index == "" || d.CE == "" || d.PE == "" {
		cache = instrumentCache(cfg)
	}
	if d.Index == "" {
		idx, err := cache.Index(ctx, und)
		if err != nil {
			return d, fmt.Errorf("index for %s: %w", und, err)
		}
		d.Index = idx.Symbol
	}

	if d.Date == "" {
		days, err := reader.Days(ctx, d.Index, markethours.IST)
		if err != nil {
			return d, err
		}
		if len(days) == 0 {
			return d, fmt.Errorf("%s: %w", d.Index, session.ErrNoData)
		}
		d.Date = days[0]
	}
	date, err := time.ParseInLocation("2006-01-02", d.Date, markethours.IST)
	if err != nil {
		return d, fmt.Errorf("date %q: %w", d.Date, err)
	}
	from, to := markethours.SessionOpen(date), markethours.TodayClose(date)

	if d.CE == "" || d.PE == "" {
		bars, err := reader.Bars(ctx, d.Index, from, to)
		if err != nil {
			return d, err
		}
		if len(bars) == 0 {
			return d, fmt.Errorf("%s on %s: %w", d.Index, d.Date, session.ErrNoData)
		}
		ce, pe, err := cache.Legs(ctx, und, bars[0].Open, date)
		if err != nil {
			return d, err
		}
		d.CE, d.PE = ce.Symbol, pe.Symbol
	}

	d.Tape, err = replay.Load(ctx, reader, d.Index, d.CE, d.PE, date)
	if err != nil {
		return d, err
	}

	d.Sentiment = sentiment.Static{}
	if hp, err := sentiment.LoadHistory(ctx, reader, d.Index, from, to); err != nil {
		log.Printf("[optionscalp] pcr history for %s: %v (continuing without sentiment)", d.Index, err)
	} else {
		d.Sentiment = hp
	}
	return d, nil
}

// sessionConfig builds the per-session settings shared by every command.
func sessionConfig(cfg *config.Config, id string, mode session.Mode, d day) (session.Config, error) {
	st, err := config.LoadStrategies(cfg.StrategiesPath)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		ID:        id,
		Mode:      mode,
		Index:     d.Index,
		CE:        d.CE,
		PE:        d.PE,
		Strategy:  st.Strategy,
		Cooldown:  st.Cooldown,
		Risk:      portfolio.RiskLimits{MaxTradesPerDay: cfg.MaxTradesDay, MaxLossesPerDay: cfg.MaxLossesDay},
		Sentiment: d.Sentiment,
	}, nil
}
