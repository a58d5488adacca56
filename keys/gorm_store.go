package keys

import (
	"context"

	"brokerage-backend/models"

	"gorm.io/gorm"
)

// GormPersistence stores the key set in the signing_keys table. Save replaces
// the whole set inside one transaction, matching the round-trip contract.
type GormPersistence struct {
	db *gorm.DB
}

func NewGormPersistence(db *gorm.DB) *GormPersistence {
	return &GormPersistence{db: db}
}

func (p *GormPersistence) Save(ctx context.Context, set []KeyRecord) error {
	rows := make([]models.SigningKey, 0, len(set))
	for _, k := range set {
		rows = append(rows, models.SigningKey{
			KID:       k.KID,
			Algorithm: k.Algorithm,
			Material:  append([]byte(nil), k.Material...),
			Status:    string(k.Status),
			CreatedAt: k.CreatedAt,
			RotatedAt: k.RotatedAt,
		})
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.SigningKey{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (p *GormPersistence) Load(ctx context.Context) ([]KeyRecord, error) {
	var rows []models.SigningKey
	if err := p.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	set := make([]KeyRecord, 0, len(rows))
	for _, r := range rows {
		set = append(set, KeyRecord{
			KID:       r.KID,
			Algorithm: r.Algorithm,
			Material:  append([]byte(nil), r.Material...),
			Status:    Status(r.Status),
			CreatedAt: r.CreatedAt,
			RotatedAt: r.RotatedAt,
		})
	}
	return set, nil
}
