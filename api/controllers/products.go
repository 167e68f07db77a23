package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/payflow/api/responses"
	"github.com/angelmondragon/payflow/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payflow/pkg/errors"
	"github.com/angelmondragon/payflow/pkg/logger"
)

type productLister interface {
	List(ctx context.Context) ([]models.Product, error)
}

type productResponse struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url,omitempty"`
}

// ProductList renders the catalog in name order.
func ProductList(repo productLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product repository unavailable"))
			return
		}
		list, err := repo.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list products"))
			return
		}
		out := make([]productResponse, 0, len(list))
		for _, p := range list {
			out = append(out, productResponse{
				ID:          p.ID,
				Name:        p.Name,
				Description: p.Description,
				Price:       p.Price.StringFixed(2),
				ImageURL:    p.ImageURL,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
