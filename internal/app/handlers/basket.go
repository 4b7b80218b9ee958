package handlers

import (
	"log/slog"
	"net/http"

	"github.com/linemk/storefront/internal/service"
)

type AddBasketItemRequest struct {
	ProductID       int64  `json:"productId" validate:"required,gt=0"`
	Quantity        int    `json:"quantity" validate:"required,min=1,max=1000"`
	SelectedColorID *int64 `json:"selectedColorId,omitempty"`
	SelectedSizeID  *int64 `json:"selectedSizeId,omitempty"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=1000"`
}

// GetBasketHandler обрабатывает GET /api/basket
func GetBasketHandler(log *slog.Logger, basketService service.BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.GetBasketHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		view, err := basketService.GetBasket(r.Context(), id)
		if err != nil {
			writeError(w, logger, "failed to get basket", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, view)
	}
}

// AddBasketItemHandler обрабатывает POST /api/basket/items
func AddBasketItemHandler(log *slog.Logger, basketService service.BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.AddBasketItemHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		var req AddBasketItemRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		item, err := basketService.AddItem(r.Context(), service.AddBasketItemInput{
			UserID:          id,
			ProductID:       req.ProductID,
			Quantity:        req.Quantity,
			SelectedColorID: req.SelectedColorID,
			SelectedSizeID:  req.SelectedSizeID,
		})
		if err != nil {
			writeError(w, logger, "failed to add basket item", err)
			return
		}
		writeJSON(w, logger, http.StatusCreated, item)
	}
}

// UpdateBasketItemHandler обрабатывает PATCH /api/basket/items/{itemId}
func UpdateBasketItemHandler(log *slog.Logger, basketService service.BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.UpdateBasketItemHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		itemID, ok := pathID(w, r, logger, "itemId")
		if !ok {
			return
		}
		var req UpdateQuantityRequest
		if err := decode(r, &req); err != nil {
			logger.Error("invalid request", slog.Any("error", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := basketService.UpdateQuantity(r.Context(), id, itemID, req.Quantity); err != nil {
			writeError(w, logger, "failed to update basket item", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, MessageResponse{Message: "Basket item updated"})
	}
}

// DeleteBasketItemHandler обрабатывает DELETE /api/basket/items/{itemId}
func DeleteBasketItemHandler(log *slog.Logger, basketService service.BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.DeleteBasketItemHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		itemID, ok := pathID(w, r, logger, "itemId")
		if !ok {
			return
		}
		if err := basketService.RemoveItem(r.Context(), id, itemID); err != nil {
			writeError(w, logger, "failed to remove basket item", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, MessageResponse{Message: "Basket item removed"})
	}
}

// ClearBasketHandler обрабатывает DELETE /api/basket
func ClearBasketHandler(log *slog.Logger, basketService service.BasketService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", "handlers.ClearBasketHandler"))

		id, ok := userID(w, r, logger)
		if !ok {
			return
		}
		removed, err := basketService.Clear(r.Context(), id)
		if err != nil {
			writeError(w, logger, "failed to clear basket", err)
			return
		}
		writeJSON(w, logger, http.StatusOK, struct {
			Message string `json:"message"`
			Removed int64  `json:"removed"`
		}{Message: "Basket cleared", Removed: removed})
	}
}
