package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/currency"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/snowflake"
)

// ExchangeRateModel is the database DTO for the rate time series.
type ExchangeRateModel struct {
	ID        int64           `gorm:"primaryKey"`
	Pair      string          `gorm:"type:varchar(20);index:idx_exchange_rates_pair_fetched"`
	Value     decimal.Decimal `gorm:"type:numeric(18,6)"`
	Source    string          `gorm:"type:varchar(100)"`
	FetchedAt time.Time       `gorm:"index:idx_exchange_rates_pair_fetched"`
}

func (ExchangeRateModel) TableName() string {
	return "exchange_rates"
}

type ExchangeRateRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewExchangeRateRepository(db *gorm.DB, ids *snowflake.Node) *ExchangeRateRepository {
	return &ExchangeRateRepository{db: db, ids: ids}
}

func (r *ExchangeRateRepository) Create(ctx context.Context, rate *currency.Rate) error {
	model := ExchangeRateModel{
		ID:        rate.ID,
		Pair:      rate.Pair,
		Value:     rate.Value,
		Source:    rate.Source,
		FetchedAt: rate.FetchedAt,
	}
	if model.ID == 0 {
		model.ID = r.ids.GenerateID()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	rate.ID = model.ID
	return nil
}

func (r *ExchangeRateRepository) Latest(ctx context.Context, pair string) (*currency.Rate, error) {
	var model ExchangeRateModel
	err := r.db.WithContext(ctx).
		Where("pair = ?", pair).
		Order("fetched_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &currency.Rate{
		ID:        model.ID,
		Pair:      model.Pair,
		Value:     model.Value,
		Source:    model.Source,
		FetchedAt: model.FetchedAt,
	}, nil
}
