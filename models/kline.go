// models/kline.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawKline is one candlestick exactly as the exchange returns it.
type RawKline struct {
	OpenTime                 int64
	Open                     string
	High                     string
	Low                      string
	Close                    string
	Volume                   string
	CloseTime                int64
	QuoteAssetVolume         string
	TradeCount               int64
	TakerBuyBaseAssetVolume  string
	TakerBuyQuoteAssetVolume string
	Ignore                   string
}

func (SymbolKlineBar) TableName() string {
	return "SymbolKlineBars"
}

// SymbolKlineBar is one row of the output table. It doubles as the gorm model
// and the streaming payload.
type SymbolKlineBar struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement" json:"-"`
	Symbol                   string          `gorm:"size:50;uniqueIndex:idx_symbol_interval_time" json:"symbol"`
	Interval                 string          `gorm:"size:10;default:1m;uniqueIndex:idx_symbol_interval_time" json:"interval"`
	OpenTime                 int64           `gorm:"uniqueIndex:idx_symbol_interval_time" json:"open_time"`
	Timestamp                time.Time       `json:"timestamp"`
	Open                     decimal.Decimal `gorm:"type:decimal(30,8)" json:"open"`
	High                     decimal.Decimal `gorm:"type:decimal(30,8)" json:"high"`
	Low                      decimal.Decimal `gorm:"type:decimal(30,8)" json:"low"`
	Close                    decimal.Decimal `gorm:"type:decimal(30,8)" json:"close"`
	Volume                   decimal.Decimal `gorm:"type:decimal(30,8)" json:"volume"`
	CloseTime                int64           `json:"close_time"`
	QuoteAssetVolume         decimal.Decimal `gorm:"type:decimal(30,8)" json:"quote_asset_volume"`
	TradeCount               int64           `json:"number_of_trades"`
	TakerBuyBaseAssetVolume  decimal.Decimal `gorm:"type:decimal(30,8)" json:"taker_buy_base_volume"`
	TakerBuyQuoteAssetVolume decimal.Decimal `gorm:"type:decimal(30,8)" json:"taker_buy_quote_volume"`
	Ignore                   string          `gorm:"size:32" json:"ignore"`
}
