package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
)

// Product is the slimmed-down product shape served to the picker UI.
type Product struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Handle       string   `json:"handle"`
	Images       []string `json:"images"`
	FirstVariant *Variant `json:"firstVariant,omitempty"`
}

// Variant is the first variant of a product, used for display pricing.
type Variant struct {
	ID    string `json:"id"`
	Price string `json:"price"`
}

// ProductClient fetches products over the Shopify Admin GraphQL API using the
// per-shop access token from the installation record.
type ProductClient struct {
	installations domain.InstallationRepository
	apiVersion    string
	httpClient    *http.Client
	pageSize      int

	// baseURL replaces https://{shop} when set; used by tests.
	baseURL string
}

// NewProductClient constructs a product client.
func NewProductClient(installations domain.InstallationRepository, apiVersion string) *ProductClient {
	return &ProductClient{
		installations: installations,
		apiVersion:    apiVersion,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		pageSize:      50,
	}
}

const productsQuery = `query($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        title
        handle
        images(first: 10) { edges { node { url } } }
        variants(first: 1) { edges { node { id price } } }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type productsResponse struct {
	Data struct {
		Products struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node struct {
					ID     string `json:"id"`
					Title  string `json:"title"`
					Handle string `json:"handle"`
					Images struct {
						Edges []struct {
							Node struct {
								URL string `json:"url"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"images"`
					Variants struct {
						Edges []struct {
							Node struct {
								ID    string `json:"id"`
								Price string `json:"price"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"variants"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchAll pages through the shop's product catalog and returns it whole.
func (c *ProductClient) FetchAll(ctx context.Context, shopDomain string) ([]Product, error) {
	inst, err := c.installations.GetByShop(ctx, shopDomain)
	if err != nil {
		return nil, err
	}

	base := "https://" + shopDomain
	if c.baseURL != "" {
		base = c.baseURL
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.apiVersion)
	var products []Product
	var cursor string

	for {
		variables := map[string]any{"first": c.pageSize}
		if cursor != "" {
			variables["after"] = cursor
		}
		page, err := c.query(ctx, endpoint, inst.AccessToken, variables)
		if err != nil {
			return nil, err
		}

		for _, edge := range page.Data.Products.Edges {
			node := edge.Node
			product := Product{
				ID:     node.ID,
				Title:  node.Title,
				Handle: node.Handle,
				Images: make([]string, 0, len(node.Images.Edges)),
			}
			for _, img := range node.Images.Edges {
				product.Images = append(product.Images, img.Node.URL)
			}
			if len(node.Variants.Edges) > 0 {
				v := node.Variants.Edges[0].Node
				product.FirstVariant = &Variant{ID: v.ID, Price: v.Price}
			}
			products = append(products, product)
		}

		if !page.Data.Products.PageInfo.HasNextPage {
			break
		}
		cursor = page.Data.Products.PageInfo.EndCursor
	}

	return products, nil
}

func (c *ProductClient) query(ctx context.Context, endpoint, accessToken string, variables map[string]any) (*productsResponse, error) {
	body, err := json.Marshal(graphQLRequest{Query: productsQuery, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("shopify: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopify: graphql request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("shopify: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded productsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("shopify: graphql error: %s", decoded.Errors[0].Message)
	}
	return &decoded, nil
}
