package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/director74/shop_fulfillment/internal/entity"
)

// CatalogRepository интерфейс каталога товаров, только чтение
type CatalogRepository interface {
	GetProduct(ctx context.Context, id uint) (*entity.Product, error)
	GetOption(ctx context.Context, id uint) (*entity.ProductOption, error)
}

// ErrProductNotFound ошибка, когда товар не найден
var ErrProductNotFound = errors.New("товар не найден")

// ErrOptionNotFound ошибка, когда вариант товара не найден
var ErrOptionNotFound = errors.New("вариант товара не найден")

// CatalogRepositoryImpl реализация репозитория каталога на GORM
type CatalogRepositoryImpl struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &CatalogRepositoryImpl{
		db: db,
	}
}

func (r *CatalogRepositoryImpl) GetProduct(ctx context.Context, id uint) (*entity.Product, error) {
	var product entity.Product
	result := r.db.WithContext(ctx).First(&product, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, result.Error
	}
	return &product, nil
}

func (r *CatalogRepositoryImpl) GetOption(ctx context.Context, id uint) (*entity.ProductOption, error) {
	var option entity.ProductOption
	result := r.db.WithContext(ctx).First(&option, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOptionNotFound
		}
		return nil, result.Error
	}
	return &option, nil
}
