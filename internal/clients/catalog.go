package clients

import (
	"context"
	"time"
)

type CatalogClient struct {
	httpCaller
}

func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{httpCaller: newHTTPCaller(baseURL, timeout)}
}

type ProductDetails struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

type detailsRequest struct {
	ProductIDs []string `json:"product_ids"`
}

type detailsResponse struct {
	Products map[string]ProductDetails `json:"products"`
}

// GetDetails fetches display metadata for a batch of products.
func (c *CatalogClient) GetDetails(ctx context.Context, productIDs []string) (map[string]ProductDetails, error) {
	if len(productIDs) == 0 {
		return map[string]ProductDetails{}, nil
	}

	var resp detailsResponse
	if err := c.postJSON(ctx, "/products/details", detailsRequest{ProductIDs: productIDs}, &resp); err != nil {
		return nil, err
	}
	if resp.Products == nil {
		resp.Products = map[string]ProductDetails{}
	}
	return resp.Products, nil
}
