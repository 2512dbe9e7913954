package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
	"github.com/shelfjetlabs/shelfjet-worker/pkg/snowflake"
)

// ListingModel is the slice of the listings table the worker mutates.
type ListingModel struct {
	ID                string `gorm:"primaryKey;type:varchar(64)"`
	ProductID         string `gorm:"type:varchar(64);index"`
	Marketplace       string `gorm:"type:varchar(50)"`
	Status            string `gorm:"type:varchar(20);index"`
	AutoStatusEnabled bool
	PausedByInventory bool       `gorm:"index"`
	ResumeAt          *time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

func (ListingModel) TableName() string {
	return "listings"
}

// InventoryAlertModel is the database DTO for inventory audit rows.
type InventoryAlertModel struct {
	ID                int64  `gorm:"primaryKey"`
	ProductID         string `gorm:"type:varchar(64);index:idx_inventory_alerts_product_type"`
	ListingID         string `gorm:"type:varchar(64)"`
	AlertType         string `gorm:"type:varchar(30);index:idx_inventory_alerts_product_type"`
	Severity          string `gorm:"type:varchar(20)"`
	PreviousStock     *int
	CurrentStock      int
	PreviousAvailable *bool
	CurrentAvailable  bool
	Reason            string `gorm:"type:text"`
	ThresholdUsed     int
	Suppressed        bool
	SuppressReason    string `gorm:"type:text"`
	ActionTaken       string `gorm:"type:varchar(30)"`
	ActionDetails     string `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"index"`
}

func (InventoryAlertModel) TableName() string {
	return "inventory_alerts"
}

// ProductModel is read-only here: the health monitor derives stock
// ratios from it.
type ProductModel struct {
	ID    string `gorm:"primaryKey;type:varchar(64)"`
	Title string `gorm:"type:text"`
	Stock int
}

func (ProductModel) TableName() string {
	return "products"
}

type ListingRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewListingRepository(db *gorm.DB, ids *snowflake.Node) *ListingRepository {
	return &ListingRepository{db: db, ids: ids}
}

func (r *ListingRepository) FindByID(ctx context.Context, id string) (*inventory.Listing, error) {
	var model ListingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return listingToDomain(model), nil
}

func (r *ListingRepository) ListResumable(ctx context.Context, now time.Time, limit int) ([]*inventory.Listing, error) {
	query := r.db.WithContext(ctx).
		Where("paused_by_inventory = ? AND resume_at IS NOT NULL AND resume_at <= ?", true, now).
		Order("resume_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []ListingModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	listings := make([]*inventory.Listing, 0, len(models))
	for _, model := range models {
		listings = append(listings, listingToDomain(model))
	}
	return listings, nil
}

func (r *ListingRepository) SetAutoStatus(ctx context.Context, id string, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&ListingModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"auto_status_enabled": enabled,
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return inventory.ErrListingNotFound
	}
	return nil
}

// SaveWithAlert writes the listing mutation and its audit row in one
// transaction.
func (r *ListingRepository) SaveWithAlert(ctx context.Context, listing *inventory.Listing, alert *inventory.Alert) error {
	alertModel := inventoryAlertToModel(alert)
	if alertModel.ID == 0 {
		alertModel.ID = r.ids.GenerateID()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listingModel := listingToModel(listing)
		if err := tx.Save(&listingModel).Error; err != nil {
			return err
		}
		return tx.Create(&alertModel).Error
	})
	if err != nil {
		return err
	}
	alert.ID = alertModel.ID
	return nil
}

type InventoryAlertRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewInventoryAlertRepository(db *gorm.DB, ids *snowflake.Node) *InventoryAlertRepository {
	return &InventoryAlertRepository{db: db, ids: ids}
}

func (r *InventoryAlertRepository) Create(ctx context.Context, alert *inventory.Alert) error {
	model := inventoryAlertToModel(alert)
	if model.ID == 0 {
		model.ID = r.ids.GenerateID()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	alert.ID = model.ID
	return nil
}

func (r *InventoryAlertRepository) LastUnsuppressed(ctx context.Context, productID string, alertType inventory.AlertType) (*time.Time, error) {
	var model InventoryAlertModel
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND alert_type = ? AND suppressed = ?", productID, string(alertType), false).
		Order("created_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := model.CreatedAt
	return &t, nil
}

type ProductStatsRepository struct {
	db *gorm.DB
}

func NewProductStatsRepository(db *gorm.DB) *ProductStatsRepository {
	return &ProductStatsRepository{db: db}
}

func (r *ProductStatsRepository) StockCounts(ctx context.Context) (int64, int64, error) {
	var total, outOfStock int64
	if err := r.db.WithContext(ctx).Model(&ProductModel{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := r.db.WithContext(ctx).Model(&ProductModel{}).
		Where("stock = 0").Count(&outOfStock).Error; err != nil {
		return 0, 0, err
	}
	return total, outOfStock, nil
}

func (r *ProductStatsRepository) ErrorListingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ListingModel{}).
		Where("status = ?", string(inventory.ListingError)).
		Count(&count).Error
	return count, err
}

// Mappers

func listingToDomain(m ListingModel) *inventory.Listing {
	return &inventory.Listing{
		ID:                m.ID,
		ProductID:         m.ProductID,
		Marketplace:       m.Marketplace,
		Status:            inventory.ListingStatus(m.Status),
		AutoStatusEnabled: m.AutoStatusEnabled,
		PausedByInventory: m.PausedByInventory,
		ResumeAt:          m.ResumeAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func listingToModel(d *inventory.Listing) ListingModel {
	return ListingModel{
		ID:                d.ID,
		ProductID:         d.ProductID,
		Marketplace:       d.Marketplace,
		Status:            string(d.Status),
		AutoStatusEnabled: d.AutoStatusEnabled,
		PausedByInventory: d.PausedByInventory,
		ResumeAt:          d.ResumeAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func inventoryAlertToModel(d *inventory.Alert) InventoryAlertModel {
	return InventoryAlertModel{
		ID:                d.ID,
		ProductID:         d.ProductID,
		ListingID:         d.ListingID,
		AlertType:         string(d.AlertType),
		Severity:          string(d.Severity),
		PreviousStock:     d.PreviousStock,
		CurrentStock:      d.CurrentStock,
		PreviousAvailable: d.PreviousAvailable,
		CurrentAvailable:  d.CurrentAvailable,
		Reason:            d.Reason,
		ThresholdUsed:     d.ThresholdUsed,
		Suppressed:        d.Suppressed,
		SuppressReason:    d.SuppressReason,
		ActionTaken:       string(d.ActionTaken),
		ActionDetails:     d.ActionDetails,
		CreatedAt:         d.CreatedAt,
	}
}
