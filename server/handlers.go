package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/mkrogh/garnscope/pkg/domain"
	"github.com/mkrogh/garnscope/pkg/feed"
	"github.com/mkrogh/garnscope/pkg/pipeline"
)

// yarnResponse is the JSON shape of a catalog yarn with its current offers
type yarnResponse struct {
	ID               int64                   `json:"id"`
	Name             string                  `json:"name"`
	Type             string                  `json:"type"`
	Description      *string                 `json:"description,omitempty"`
	ImageURL         *string                 `json:"image_url,omitempty"`
	Tension          *int                    `json:"tension,omitempty"`
	SkeinLength      *int                    `json:"skein_length,omitempty"`
	SearchQuery      *string                 `json:"search_query,omitempty"`
	SearchFields     []string                `json:"search_fields,omitempty"`
	NegativeKeywords []string                `json:"negative_keywords,omitempty"`
	MainYarnID       *int64                  `json:"main_yarn_id,omitempty"`
	CarryAlongYarnID *int64                  `json:"carry_along_yarn_id,omitempty"`
	LowestPrice      *float64                `json:"lowest_price,omitempty"`
	PricePerMeter    *float64                `json:"price_per_meter,omitempty"`
	IsActive         bool                    `json:"is_active"`
	ActiveSince      *time.Time              `json:"active_since,omitempty"`
	InactiveSince    *time.Time              `json:"inactive_since,omitempty"`
	Offers           []offerResponse         `json:"offers,omitempty"`
	CombinedOffers   []combinedOfferResponse `json:"combined_offers,omitempty"`
}

// offerResponse is one retailer's offer for a single yarn
type offerResponse struct {
	RetailerID          int64    `json:"retailer_id"`
	RetailerName        string   `json:"retailer_name"`
	ProductID           string   `json:"product_id"`
	Name                string   `json:"name"`
	Price               *float64 `json:"price"`
	PriceBeforeDiscount *float64 `json:"price_before_discount,omitempty"`
	InStock             bool     `json:"in_stock"`
	URL                 string   `json:"url"`
}

// combinedOfferResponse is one retailer's joint offer for a double yarn
type combinedOfferResponse struct {
	RetailerID      int64   `json:"retailer_id"`
	RetailerName    string  `json:"retailer_name"`
	TotalPrice      float64 `json:"total_price"`
	MainPrice       float64 `json:"main_price"`
	CarryAlongPrice float64 `json:"carry_along_price"`
}

// yarnRequest is the JSON body for creating or updating a yarn
type yarnRequest struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Description      *string  `json:"description"`
	ImageURL         *string  `json:"image_url"`
	Tension          *int     `json:"tension"`
	SkeinLength      *int     `json:"skein_length"`
	SearchQuery      *string  `json:"search_query"`
	SearchFields     []string `json:"search_fields"`
	NegativeKeywords []string `json:"negative_keywords"`
	MainYarnID       *int64   `json:"main_yarn_id"`
	CarryAlongYarnID *int64   `json:"carry_along_yarn_id"`
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, status)
}

// activeYarnsHandler lists active yarns with their current offers
func (s *Server) activeYarnsHandler(w http.ResponseWriter, r *http.Request) {
	s.listYarns(w, r, true)
}

// allYarnsHandler lists the full catalog, offers included
func (s *Server) allYarnsHandler(w http.ResponseWriter, r *http.Request) {
	s.listYarns(w, r, false)
}

func (s *Server) listYarns(w http.ResponseWriter, r *http.Request, activeOnly bool) {
	ctx := r.Context()

	yarns, err := s.catalog.GetYarns(ctx, activeOnly)
	if err != nil {
		lgr.Printf("[ERROR] failed to list yarns: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]yarnResponse, 0, len(yarns))
	for _, yarn := range yarns {
		yr, err := s.yarnWithOffers(r, yarn)
		if err != nil {
			lgr.Printf("[ERROR] failed to load offers for yarn %d: %v", yarn.ID, err)
			renderError(w, r, err, http.StatusInternalServerError)
			return
		}
		resp = append(resp, yr)
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// yarnHandler returns one yarn with its offers
func (s *Server) yarnHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid yarn ID"), http.StatusBadRequest)
		return
	}

	yarn, err := s.catalog.GetYarn(r.Context(), id)
	if err != nil {
		renderError(w, r, fmt.Errorf("yarn not found"), http.StatusNotFound)
		return
	}

	resp, err := s.yarnWithOffers(r, yarn)
	if err != nil {
		lgr.Printf("[ERROR] failed to load offers for yarn %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// createYarnHandler adds a yarn to the catalog
func (s *Server) createYarnHandler(w http.ResponseWriter, r *http.Request) {
	var req yarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	yarn := req.toDomain(0)
	if err := s.validateYarn(r, yarn); err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	if err := s.catalog.CreateYarn(r.Context(), yarn); err != nil {
		lgr.Printf("[ERROR] failed to create yarn: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusCreated, toYarnResponse(yarn))
}

// updateYarnHandler updates a yarn's catalog fields
func (s *Server) updateYarnHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid yarn ID"), http.StatusBadRequest)
		return
	}

	if _, err := s.catalog.GetYarn(r.Context(), id); err != nil {
		renderError(w, r, fmt.Errorf("yarn not found"), http.StatusNotFound)
		return
	}

	var req yarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	yarn := req.toDomain(id)
	if err := s.validateYarn(r, yarn); err != nil {
		renderError(w, r, err, http.StatusBadRequest)
		return
	}

	if err := s.catalog.UpdateYarn(r.Context(), yarn); err != nil {
		lgr.Printf("[ERROR] failed to update yarn %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, toYarnResponse(yarn))
}

// deleteYarnHandler removes a yarn and its offers
func (s *Server) deleteYarnHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, r, fmt.Errorf("invalid yarn ID"), http.StatusBadRequest)
		return
	}

	if err := s.catalog.DeleteYarn(r.Context(), id); err != nil {
		lgr.Printf("[ERROR] failed to delete yarn %d: %v", id, err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// retailersHandler lists configured retailers
func (s *Server) retailersHandler(w http.ResponseWriter, r *http.Request) {
	retailers, err := s.retail.GetRetailers(r.Context())
	if err != nil {
		lgr.Printf("[ERROR] failed to list retailers: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, retailers)
}

// importSummary is the JSON shape of a pipeline run report
type importSummary struct {
	Duration  string          `json:"duration"`
	Retailers []importOutcome `json:"retailers"`
	Yarns     []importOutcome `json:"yarns"`
	Doubles   []importOutcome `json:"doubles"`
	Failed    int             `json:"failed"`
}

type importOutcome struct {
	Name     string `json:"name"`
	Inserted int    `json:"inserted,omitempty"`
	Updated  int    `json:"updated,omitempty"`
	Matches  int    `json:"matches,omitempty"`
	Error    string `json:"error,omitempty"`
}

// importHandler runs the import pipeline and reports the outcome. A run
// already in flight is a conflict, not an error.
func (s *Server) importHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.importer.Run(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			renderError(w, r, err, http.StatusConflict)
			return
		}
		lgr.Printf("[ERROR] import run failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := importSummary{
		Duration: summary.Duration.Round(time.Millisecond).String(),
		Failed:   summary.Failed(),
	}
	for _, rr := range summary.Retailers {
		outcome := importOutcome{Name: rr.Name, Inserted: rr.Inserted, Updated: rr.Updated}
		if rr.Err != nil {
			outcome.Error = rr.Err.Error()
		}
		resp.Retailers = append(resp.Retailers, outcome)
	}
	for _, yr := range summary.Yarns {
		outcome := importOutcome{Name: yr.Name, Matches: yr.Matches}
		if yr.Err != nil {
			outcome.Error = yr.Err.Error()
		}
		resp.Yarns = append(resp.Yarns, outcome)
	}
	for _, dr := range summary.Doubles {
		outcome := importOutcome{Name: dr.Name, Matches: dr.Matches}
		if dr.Err != nil {
			outcome.Error = dr.Err.Error()
		}
		resp.Doubles = append(resp.Doubles, outcome)
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// yarnWithOffers builds the response shape for a yarn: retailer offers for
// singles, joint retailer offers for doubles.
func (s *Server) yarnWithOffers(r *http.Request, yarn *domain.Yarn) (yarnResponse, error) {
	ctx := r.Context()
	resp := toYarnResponse(yarn)

	if yarn.Type == domain.YarnTypeDouble {
		if yarn.MainYarnID == nil || yarn.CarryAlongYarnID == nil {
			return resp, nil
		}
		mainOffers, err := s.offers.GetOffersWithRetailers(ctx, *yarn.MainYarnID)
		if err != nil {
			return resp, err
		}
		carryOffers, err := s.offers.GetOffersWithRetailers(ctx, *yarn.CarryAlongYarnID)
		if err != nil {
			return resp, err
		}

		names := make(map[int64]string, len(mainOffers))
		mains := make([]*domain.AggregatedOffer, len(mainOffers))
		for i := range mainOffers {
			mains[i] = &mainOffers[i].AggregatedOffer
			names[mainOffers[i].RetailerID] = mainOffers[i].RetailerName
		}
		carries := make([]*domain.AggregatedOffer, len(carryOffers))
		for i := range carryOffers {
			carries[i] = &carryOffers[i].AggregatedOffer
		}

		for _, c := range pipeline.CombineOffers(mains, carries) {
			resp.CombinedOffers = append(resp.CombinedOffers, combinedOfferResponse{
				RetailerID:      c.RetailerID,
				RetailerName:    names[c.RetailerID],
				TotalPrice:      c.TotalPrice,
				MainPrice:       *c.Main.PriceAfterDiscount,
				CarryAlongPrice: *c.CarryAlong.PriceAfterDiscount,
			})
		}
		return resp, nil
	}

	offers, err := s.offers.GetOffersWithRetailers(ctx, yarn.ID)
	if err != nil {
		return resp, err
	}
	for _, o := range offers {
		inStock := o.StockStatus != nil && feed.IsInStock(*o.StockStatus)
		resp.Offers = append(resp.Offers, offerResponse{
			RetailerID:          o.RetailerID,
			RetailerName:        o.RetailerName,
			ProductID:           o.ProductID,
			Name:                o.Name,
			Price:               o.PriceAfterDiscount,
			PriceBeforeDiscount: o.PriceBeforeDiscount,
			InStock:             inStock,
			URL:                 o.URL,
		})
	}
	return resp, nil
}

// validateYarn enforces catalog invariants before a create or update hits
// the store
func (s *Server) validateYarn(r *http.Request, yarn *domain.Yarn) error {
	if yarn.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch yarn.Type {
	case domain.YarnTypeSingle:
		return nil
	case domain.YarnTypeDouble:
	default:
		return fmt.Errorf("unknown yarn type %q", yarn.Type)
	}

	if yarn.MainYarnID == nil || yarn.CarryAlongYarnID == nil {
		return fmt.Errorf("double yarn needs both main_yarn_id and carry_along_yarn_id")
	}
	if *yarn.MainYarnID == *yarn.CarryAlongYarnID {
		return fmt.Errorf("main and carry-along yarns must differ")
	}

	for _, componentID := range []int64{*yarn.MainYarnID, *yarn.CarryAlongYarnID} {
		component, err := s.catalog.GetYarn(r.Context(), componentID)
		if err != nil {
			return fmt.Errorf("component yarn %d not found", componentID)
		}
		if component.Type != domain.YarnTypeSingle {
			return fmt.Errorf("component yarn %d is not a single yarn", componentID)
		}
	}
	return nil
}

// toDomain converts a request body into a domain yarn
func (req *yarnRequest) toDomain(id int64) *domain.Yarn {
	yarnType := domain.YarnType(req.Type)
	if req.Type == "" {
		yarnType = domain.YarnTypeSingle
	}
	return &domain.Yarn{
		ID:               id,
		Name:             req.Name,
		Type:             yarnType,
		Description:      req.Description,
		ImageURL:         req.ImageURL,
		Tension:          req.Tension,
		SkeinLength:      req.SkeinLength,
		SearchQuery:      req.SearchQuery,
		SearchFields:     req.SearchFields,
		NegativeKeywords: req.NegativeKeywords,
		MainYarnID:       req.MainYarnID,
		CarryAlongYarnID: req.CarryAlongYarnID,
	}
}

// toYarnResponse converts a domain yarn to its response shape without offers
func toYarnResponse(yarn *domain.Yarn) yarnResponse {
	return yarnResponse{
		ID:               yarn.ID,
		Name:             yarn.Name,
		Type:             string(yarn.Type),
		Description:      yarn.Description,
		ImageURL:         yarn.ImageURL,
		Tension:          yarn.Tension,
		SkeinLength:      yarn.SkeinLength,
		SearchQuery:      yarn.SearchQuery,
		SearchFields:     yarn.SearchFields,
		NegativeKeywords: yarn.NegativeKeywords,
		MainYarnID:       yarn.MainYarnID,
		CarryAlongYarnID: yarn.CarryAlongYarnID,
		LowestPrice:      yarn.LowestPrice,
		PricePerMeter:    yarn.PricePerMeter,
		IsActive:         yarn.IsActive,
		ActiveSince:      yarn.ActiveSince,
		InactiveSince:    yarn.InactiveSince,
	}
}
