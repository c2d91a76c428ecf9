package app

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perpsim/internal/domain"
)

// snapshotFile is the on-disk JSON shape of a pair snapshot. All WAD and raw
// integer amounts are decimal strings so values beyond 2^53 survive the trip
// through JSON.
type snapshotFile struct {
	Setting   settingFile    `json:"setting"`
	Amm       ammFile        `json:"amm"`
	Price     priceFile      `json:"price"`
	Portfolio portfolioFile  `json:"portfolio"`
	Quote     quoteFile      `json:"quote"`
	Quotation *quotationFile `json:"quotation,omitempty"`

	Trader      string `json:"trader"`
	BlockNumber uint64 `json:"block_number"`
}

type settingFile struct {
	Symbol                    string `json:"symbol"`
	Base                      string `json:"base"`
	Quote                     string `json:"quote"`
	Market                    string `json:"market"`
	QuoteDecimals             uint8  `json:"quote_decimals"`
	TradingFeeBps             int64  `json:"trading_fee_bps"`
	ProtocolFeeBps            int64  `json:"protocol_fee_bps"`
	InitialMarginRatioBps     int64  `json:"initial_margin_ratio_bps"`
	MaintenanceMarginRatioBps int64  `json:"maintenance_margin_ratio_bps"`
	MinMarginAmount           string `json:"min_margin_amount"`
	Condition                 int    `json:"condition"`
	PlacePaused               bool   `json:"place_paused"`
	FundingInterval           int64  `json:"funding_interval"`
	PearlSpacing              int    `json:"pearl_spacing"`
	OrderSpacing              int    `json:"order_spacing"`
	RangeSpacing              int    `json:"range_spacing"`
}

type ammFile struct {
	Expiry               uint32 `json:"expiry"`
	Timestamp            int64  `json:"timestamp"`
	Tick                 int    `json:"tick"`
	SqrtPX96             string `json:"sqrt_px96"`
	Liquidity            string `json:"liquidity"`
	TotalLong            string `json:"total_long"`
	TotalShort           string `json:"total_short"`
	FeeIndex             string `json:"fee_index"`
	LongSocialLossIndex  string `json:"long_social_loss_index"`
	ShortSocialLossIndex string `json:"short_social_loss_index"`
	LongFundingIndex     string `json:"long_funding_index"`
	ShortFundingIndex    string `json:"short_funding_index"`
	InsuranceFund        string `json:"insurance_fund"`
	SettlementPrice      string `json:"settlement_price"`
	Status               int    `json:"status"`
}

type priceFile struct {
	Mark      string `json:"mark"`
	Spot      string `json:"spot"`
	Benchmark string `json:"benchmark"`
}

type quoteFile struct {
	Reserve       string `json:"reserve"`
	WalletBalance string `json:"wallet_balance"`
	Allowance     string `json:"allowance"`
}

type quotationFile struct {
	Size          string `json:"size"`
	EntryNotional string `json:"entry_notional"`
	Fee           string `json:"fee"`
	PostTick      int    `json:"post_tick"`
	SqrtPostPX96  string `json:"sqrt_post_px96"`
	Benchmark     string `json:"benchmark"`
}

type portfolioFile struct {
	Position   positionFile         `json:"position"`
	Orders     map[string]orderFile `json:"orders,omitempty"`
	Ranges     map[string]rangeFile `json:"ranges,omitempty"`
	OrderTaken map[string]string    `json:"order_taken,omitempty"`
}

type positionFile struct {
	Balance              string `json:"balance"`
	Size                 string `json:"size"`
	EntryNotional        string `json:"entry_notional"`
	EntrySocialLossIndex string `json:"entry_social_loss_index"`
	EntryFundingIndex    string `json:"entry_funding_index"`
}

type orderFile struct {
	Balance string `json:"balance"`
	Size    string `json:"size"`
	Tick    int    `json:"tick"`
	Nonce   uint32 `json:"nonce"`
}

type rangeFile struct {
	Liquidity     string `json:"liquidity"`
	Balance       string `json:"balance"`
	SqrtEntryPX96 string `json:"sqrt_entry_px96"`
	EntryFeeIndex string `json:"entry_fee_index"`
	TickLower     int    `json:"tick_lower"`
	TickUpper     int    `json:"tick_upper"`
}

// LoadSnapshot reads a snapshot JSON file and converts it into the domain
// aggregate.
func LoadSnapshot(path string) (domain.PairSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PairSnapshot{}, fmt.Errorf("app: read snapshot: %w", err)
	}
	var f snapshotFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.PairSnapshot{}, fmt.Errorf("app: decode snapshot %s: %w", path, err)
	}
	return f.toDomain()
}

func (f snapshotFile) toDomain() (domain.PairSnapshot, error) {
	p := &bigParser{}

	params := domain.SettingParams{
		Symbol:                    f.Setting.Symbol,
		Base:                      common.HexToAddress(f.Setting.Base),
		Quote:                     common.HexToAddress(f.Setting.Quote),
		Market:                    common.HexToAddress(f.Setting.Market),
		QuoteDecimals:             f.Setting.QuoteDecimals,
		TradingFeeBps:             f.Setting.TradingFeeBps,
		ProtocolFeeBps:            f.Setting.ProtocolFeeBps,
		InitialMarginRatioBps:     f.Setting.InitialMarginRatioBps,
		MaintenanceMarginRatioBps: f.Setting.MaintenanceMarginRatioBps,
		MinMarginAmount:           p.parse("setting.min_margin_amount", f.Setting.MinMarginAmount),
		Condition:                 domain.Condition(f.Setting.Condition),
		PlacePaused:               f.Setting.PlacePaused,
		FundingInterval:           f.Setting.FundingInterval,
		PearlSpacing:              f.Setting.PearlSpacing,
		OrderSpacing:              f.Setting.OrderSpacing,
		RangeSpacing:              f.Setting.RangeSpacing,
	}

	amm := &domain.Amm{
		Expiry:               f.Amm.Expiry,
		Timestamp:            f.Amm.Timestamp,
		Tick:                 f.Amm.Tick,
		SqrtPX96:             p.parse("amm.sqrt_px96", f.Amm.SqrtPX96),
		Liquidity:            p.parse("amm.liquidity", f.Amm.Liquidity),
		TotalLong:            p.parse("amm.total_long", f.Amm.TotalLong),
		TotalShort:           p.parse("amm.total_short", f.Amm.TotalShort),
		FeeIndex:             p.parse("amm.fee_index", f.Amm.FeeIndex),
		LongSocialLossIndex:  p.parse("amm.long_social_loss_index", f.Amm.LongSocialLossIndex),
		ShortSocialLossIndex: p.parse("amm.short_social_loss_index", f.Amm.ShortSocialLossIndex),
		LongFundingIndex:     p.parse("amm.long_funding_index", f.Amm.LongFundingIndex),
		ShortFundingIndex:    p.parse("amm.short_funding_index", f.Amm.ShortFundingIndex),
		InsuranceFund:        p.parse("amm.insurance_fund", f.Amm.InsuranceFund),
		SettlementPrice:      p.parse("amm.settlement_price", f.Amm.SettlementPrice),
		Status:               domain.Status(f.Amm.Status),
	}

	price := domain.PriceData{
		Mark:      p.parse("price.mark", f.Price.Mark),
		Spot:      p.parse("price.spot", f.Price.Spot),
		Benchmark: p.parse("price.benchmark", f.Price.Benchmark),
	}

	quote := domain.QuoteState{
		Reserve:       p.parse("quote.reserve", f.Quote.Reserve),
		WalletBalance: p.parse("quote.wallet_balance", f.Quote.WalletBalance),
		Allowance:     p.parse("quote.allowance", f.Quote.Allowance),
	}

	portfolio, err := f.Portfolio.toDomain(p)
	if err != nil {
		return domain.PairSnapshot{}, err
	}
	if p.err != nil {
		return domain.PairSnapshot{}, p.err
	}

	snap, err := domain.NewPairSnapshot(params, amm, price, portfolio, quote,
		common.HexToAddress(f.Trader), f.BlockNumber)
	if err != nil {
		return domain.PairSnapshot{}, err
	}
	if f.Quotation != nil {
		snap.Quotation = &domain.Quotation{
			Size:          p.parse("quotation.size", f.Quotation.Size),
			EntryNotional: p.parse("quotation.entry_notional", f.Quotation.EntryNotional),
			Fee:           p.parse("quotation.fee", f.Quotation.Fee),
			PostTick:      f.Quotation.PostTick,
			SqrtPostPX96:  p.parse("quotation.sqrt_post_px96", f.Quotation.SqrtPostPX96),
			Benchmark:     p.parse("quotation.benchmark", f.Quotation.Benchmark),
		}
		if p.err != nil {
			return domain.PairSnapshot{}, p.err
		}
	}
	return snap, nil
}

func (f portfolioFile) toDomain(p *bigParser) (domain.Portfolio, error) {
	out := domain.Portfolio{
		Position: domain.Position{
			Balance:              p.parse("position.balance", f.Position.Balance),
			Size:                 p.parse("position.size", f.Position.Size),
			EntryNotional:        p.parse("position.entry_notional", f.Position.EntryNotional),
			EntrySocialLossIndex: p.parse("position.entry_social_loss_index", f.Position.EntrySocialLossIndex),
			EntryFundingIndex:    p.parse("position.entry_funding_index", f.Position.EntryFundingIndex),
		},
		Orders:     make(map[uint64]domain.Order, len(f.Orders)),
		Ranges:     make(map[uint64]domain.Range, len(f.Ranges)),
		OrderTaken: make(map[uint64]*big.Int, len(f.OrderTaken)),
	}
	for k, of := range f.Orders {
		key, err := parseKey(k)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("app: order key %q: %w", k, err)
		}
		order, err := domain.NewOrder(
			p.parse("order.balance", of.Balance),
			p.parse("order.size", of.Size),
			of.Tick, of.Nonce)
		if err != nil {
			return domain.Portfolio{}, err
		}
		out.Orders[key] = order
	}
	for k, rf := range f.Ranges {
		key, err := parseKey(k)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("app: range key %q: %w", k, err)
		}
		out.Ranges[key] = domain.Range{
			Liquidity:     p.parse("range.liquidity", rf.Liquidity),
			Balance:       p.parse("range.balance", rf.Balance),
			SqrtEntryPX96: p.parse("range.sqrt_entry_px96", rf.SqrtEntryPX96),
			EntryFeeIndex: p.parse("range.entry_fee_index", rf.EntryFeeIndex),
			TickLower:     rf.TickLower,
			TickUpper:     rf.TickUpper,
		}
	}
	for k, v := range f.OrderTaken {
		key, err := parseKey(k)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("app: taken key %q: %w", k, err)
		}
		out.OrderTaken[key] = p.parse("order_taken", v)
	}
	return out, p.err
}

// bigParser accumulates the first parse failure so call sites stay flat.
type bigParser struct {
	err error
}

// parse converts a decimal string into a big.Int, treating the empty string
// as zero.
func (p *bigParser) parse(field, s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		if p.err == nil {
			p.err = fmt.Errorf("app: field %s: invalid integer %q", field, s)
		}
		return new(big.Int)
	}
	return v
}

func parseKey(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
