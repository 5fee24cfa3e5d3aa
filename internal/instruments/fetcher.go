package instruments

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"optionscalp/internal/markethours"
	"optionscalp/internal/model"
)

// DefaultMasterURL is the Angel One OpenAPI scrip master.
const DefaultMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// HTTPFetcher downloads the scrip master JSON and keeps index options and
// index rows.
type HTTPFetcher struct {
	client *resty.Client
	url    string
}

// NewHTTPFetcher creates a fetcher for url (DefaultMasterURL when empty).
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	if url == "" {
		url = DefaultMasterURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	return &HTTPFetcher{client: client, url: url}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]model.Instrument, error) {
	resp, err := f.client.R().SetContext(ctx).Get(f.url)
	if err != nil {
		return nil, fmt.Errorf("fetch scrip master: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch scrip master: HTTP %d", resp.StatusCode())
	}
	return ParseMaster(resp.Body())
}

// FileFetcher reads a scrip master JSON file, for offline runs.
type FileFetcher string

func (f FileFetcher) Fetch(context.Context) ([]model.Instrument, error) {
	body, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read scrip master: %w", err)
	}
	return ParseMaster(body)
}

// ParseMaster parses scrip master rows. Strikes are quoted in paise.
func ParseMaster(body []byte) ([]model.Instrument, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("scrip master: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("scrip master: expected array")
	}

	var out []model.Instrument
	root.ForEach(func(_, row gjson.Result) bool {
		kind := row.Get("instrumenttype").String()
		if kind != "OPTIDX" && kind != "AMXIDX" {
			return true
		}
		inst := model.Instrument{
			Key:        row.Get("exch_seg").String() + "|" + row.Get("token").String(),
			Symbol:     row.Get("symbol").String(),
			Underlying: row.Get("name").String(),
		}
		if kind == "OPTIDX" {
			inst.Strike = row.Get("strike").Float() / 100
			inst.LotSize = int(row.Get("lotsize").Int())
			inst.OptionType = optionType(inst.Symbol)
			exp, err := time.ParseInLocation("02Jan2006", row.Get("expiry").String(), markethours.IST)
			if err != nil || inst.OptionType == "" {
				return true
			}
			inst.Expiry = exp
		}
		out = append(out, inst)
		return true
	})
	return out, nil
}

func optionType(symbol string) string {
	switch {
	case strings.HasSuffix(symbol, "CE"):
		return "CE"
	case strings.HasSuffix(symbol, "PE"):
		return "PE"
	}
	return ""
}
