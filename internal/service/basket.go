package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/linemk/storefront/internal/domain/models"
	"github.com/linemk/storefront/internal/lib/apperr"
	"github.com/linemk/storefront/internal/storage"
)

// BasketSummary итоги корзины по текущим ценам товаров
type BasketSummary struct {
	ItemsCount int   `json:"itemsCount"`
	TotalKZT   int64 `json:"totalKZT"`
	TotalUSD   int64 `json:"totalUSD"`
}

type BasketView struct {
	Items   []*models.BasketItem `json:"items"`
	Summary BasketSummary        `json:"summary"`
}

type AddBasketItemInput struct {
	UserID          int64
	ProductID       int64
	Quantity        int
	SelectedColorID *int64
	SelectedSizeID  *int64
}

type BasketService interface {
	GetBasket(ctx context.Context, userID int64) (*BasketView, error)
	AddItem(ctx context.Context, in AddBasketItemInput) (*models.BasketItem, error)
	UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) error
	RemoveItem(ctx context.Context, userID, itemID int64) error
	Clear(ctx context.Context, userID int64) (int64, error)
}

type basketService struct {
	log         *slog.Logger
	basketRepo  storage.BasketStorage
	productRepo storage.ProductStorage
}

func NewBasketService(log *slog.Logger, basketRepo storage.BasketStorage, productRepo storage.ProductStorage) BasketService {
	return &basketService{
		log:         log,
		basketRepo:  basketRepo,
		productRepo: productRepo,
	}
}

func (s *basketService) GetBasket(ctx context.Context, userID int64) (*BasketView, error) {
	const op = "service.BasketService.GetBasket"

	items, err := s.basketRepo.GetBasketItems(ctx, userID)
	if err != nil {
		s.log.Error("failed to get basket", slog.String("op", op), slog.Int64("userID", userID), slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get basket: %w", op, err)
	}

	view := &BasketView{Items: items}
	if view.Items == nil {
		view.Items = []*models.BasketItem{}
	}
	for _, item := range items {
		view.Summary.ItemsCount += item.Quantity
		if item.Product != nil {
			view.Summary.TotalKZT += item.Product.PriceKZT * int64(item.Quantity)
			view.Summary.TotalUSD += item.Product.PriceUSD * int64(item.Quantity)
		}
	}
	return view, nil
}

func (s *basketService) AddItem(ctx context.Context, in AddBasketItemInput) (*models.BasketItem, error) {
	const op = "service.BasketService.AddItem"
	logger := s.log.With(slog.String("op", op), slog.Int64("userID", in.UserID), slog.Int64("productID", in.ProductID))

	if err := checkQuantity(in.Quantity); err != nil {
		return nil, err
	}

	product, err := s.productRepo.GetProductByID(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, storage.ErrProductNotFound) {
			return nil, apperr.NotFound("product %d not found", in.ProductID)
		}
		logger.Error("failed to get product", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to get product: %w", op, err)
	}
	if product.Status != models.ProductStatusAvailable {
		return nil, apperr.Validation("product %s is not available", product.Name)
	}

	item, err := s.basketRepo.AddItem(ctx, &models.BasketItem{
		UserID:          in.UserID,
		ProductID:       in.ProductID,
		SelectedColorID: in.SelectedColorID,
		SelectedSizeID:  in.SelectedSizeID,
		Quantity:        in.Quantity,
	})
	if err != nil {
		logger.Error("failed to add item", slog.Any("error", err))
		return nil, fmt.Errorf("%s: failed to add item: %w", op, err)
	}
	item.Product = product

	logger.Info("item added to basket", slog.Int("quantity", item.Quantity))
	return item, nil
}

func (s *basketService) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int) error {
	const op = "service.BasketService.UpdateQuantity"

	if err := checkQuantity(quantity); err != nil {
		return err
	}
	if err := s.basketRepo.UpdateQuantity(ctx, userID, itemID, quantity); err != nil {
		if errors.Is(err, storage.ErrBasketItemNotFound) {
			return apperr.NotFound("basket item not found")
		}
		s.log.Error("failed to update quantity", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%s: failed to update quantity: %w", op, err)
	}
	return nil
}

func (s *basketService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	const op = "service.BasketService.RemoveItem"

	if err := s.basketRepo.DeleteItem(ctx, userID, itemID); err != nil {
		if errors.Is(err, storage.ErrBasketItemNotFound) {
			return apperr.NotFound("basket item not found")
		}
		s.log.Error("failed to remove item", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("%s: failed to remove item: %w", op, err)
	}
	return nil
}

func (s *basketService) Clear(ctx context.Context, userID int64) (int64, error) {
	const op = "service.BasketService.Clear"

	n, err := s.basketRepo.ClearBasket(ctx, userID)
	if err != nil {
		s.log.Error("failed to clear basket", slog.String("op", op), slog.Any("error", err))
		return 0, fmt.Errorf("%s: failed to clear basket: %w", op, err)
	}
	return n, nil
}
