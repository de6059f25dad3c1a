package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter sets up HTTP routes
// กำหนดเส้นทาง HTTP
func setupRouter(h *Handlers, reg *prometheus.Registry, enableCORS, enableMetrics bool) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if enableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/login", h.Login).Methods("POST")
	api.HandleFunc("/users", h.CreateUser).Methods("POST")

	// catalog
	api.HandleFunc("/products", h.CreateProduct).Methods("POST")
	api.HandleFunc("/products/{family}", h.ListProducts).Methods("GET")
	api.HandleFunc("/products/{family}/brands", h.ListBrands).Methods("GET")
	api.HandleFunc("/products/{family}/{id:[0-9]+}", h.GetProduct).Methods("GET")
	api.HandleFunc("/products/{family}/{id:[0-9]+}", h.UpdateProduct).Methods("PUT")
	api.HandleFunc("/products/{family}/{id:[0-9]+}", h.DeleteProduct).Methods("DELETE")
	api.HandleFunc("/products/{family}/{id:[0-9]+}/restore", h.RestoreProduct).Methods("POST")
	api.HandleFunc("/products/{family}/{id:[0-9]+}/barcodes", h.AttachBarcode).Methods("POST")
	api.HandleFunc("/products/{family}/{id:[0-9]+}/stock", h.StockAt).Methods("GET")
	api.HandleFunc("/products/{family}/{id:[0-9]+}/aggregate", h.PeriodAggregate).Methods("GET")
	api.HandleFunc("/products/{family}/{id:[0-9]+}/history", h.ProductHistory).Methods("GET")
	api.HandleFunc("/tires/{id:[0-9]+}/cost-history", h.ListCostHistory).Methods("GET")
	api.HandleFunc("/tires/{id:[0-9]+}/promotion", h.AssignPromotion).Methods("PUT")

	api.HandleFunc("/barcodes/{code}", h.LookupBarcode).Methods("GET")
	api.HandleFunc("/barcodes/{code}", h.DetachBarcode).Methods("DELETE")
	api.HandleFunc("/barcodes/{code}/primary", h.SetPrimaryBarcode).Methods("POST")

	// ledger
	api.HandleFunc("/movements", h.RecordMovement).Methods("POST")
	api.HandleFunc("/movements/bulk", h.RecordBulkMovements).Methods("POST")
	api.HandleFunc("/movements/{family}", h.ListMovements).Methods("GET")
	api.HandleFunc("/movements/{family}/{id:[0-9]+}", h.GetMovement).Methods("GET")
	api.HandleFunc("/movements/{family}/{id:[0-9]+}", h.EditMovement).Methods("PUT")
	api.HandleFunc("/movements/{family}/{id:[0-9]+}", h.DeleteMovement).Methods("DELETE")
	api.HandleFunc("/movements/{family}/{id:[0-9]+}/image", h.SetMovementImage).Methods("PUT")

	// masters
	api.HandleFunc("/masters/{kind}", h.ListMasters).Methods("GET")
	api.HandleFunc("/masters/{kind}", h.CreateMaster).Methods("POST")
	api.HandleFunc("/masters/{kind}/{id:[0-9]+}", h.RenameMaster).Methods("PUT")
	api.HandleFunc("/masters/{kind}/{id:[0-9]+}", h.DeleteMaster).Methods("DELETE")
	api.HandleFunc("/categories", h.CategoryTree).Methods("GET")
	api.HandleFunc("/categories", h.CreateCategory).Methods("POST")
	api.HandleFunc("/categories/{id:[0-9]+}", h.UpdateCategory).Methods("PUT")
	api.HandleFunc("/categories/{id:[0-9]+}", h.DeleteCategory).Methods("DELETE")

	api.HandleFunc("/promotions", h.ListPromotions).Methods("GET")
	api.HandleFunc("/promotions", h.SetPromotion).Methods("POST")
	api.HandleFunc("/promotions/{id:[0-9]+}", h.SetPromotion).Methods("PUT")
	api.HandleFunc("/promotions/{id:[0-9]+}", h.DeletePromotion).Methods("DELETE")

	api.HandleFunc("/commissions", h.ListCommissionPrograms).Methods("GET")
	api.HandleFunc("/commissions", h.AddCommissionProgram).Methods("POST")
	api.HandleFunc("/commissions/{id:[0-9]+}", h.DeleteCommissionProgram).Methods("DELETE")

	api.HandleFunc("/settings/{key}", h.GetSetting).Methods("GET")
	api.HandleFunc("/settings/{key}", h.SetSetting).Methods("PUT")

	api.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	api.HandleFunc("/notifications/unread", h.UnreadCount).Methods("GET")
	api.HandleFunc("/notifications/read", h.MarkNotificationsRead).Methods("POST")
	api.HandleFunc("/activity", h.ListActivity).Methods("GET")

	api.HandleFunc("/announcements", h.ListAnnouncements).Methods("GET")
	api.HandleFunc("/announcements", h.SetAnnouncement).Methods("POST")
	api.HandleFunc("/announcements/{id:[0-9]+}", h.SetAnnouncement).Methods("PUT")
	api.HandleFunc("/announcements/{id:[0-9]+}", h.DeleteAnnouncement).Methods("DELETE")
	api.HandleFunc("/feedback", h.SubmitFeedback).Methods("POST")
	api.HandleFunc("/feedback", h.ListFeedback).Methods("GET")
	api.HandleFunc("/feedback/{id:[0-9]+}/resolve", h.ResolveFeedback).Methods("POST")
	api.HandleFunc("/wholesale/summary", h.WholesaleSummary).Methods("GET")

	// reports
	api.HandleFunc("/reports/daily", h.DailyReport).Methods("GET")
	api.HandleFunc("/reports/period", h.PeriodReport).Methods("GET")
	api.HandleFunc("/reports/valuation", h.Valuation).Methods("GET")

	api.HandleFunc("/reconciliations", h.OpenReconciliation).Methods("POST")
	api.HandleFunc("/reconciliations", h.ListReconciliations).Methods("GET")
	api.HandleFunc("/reconciliations/{id:[0-9]+}", h.GetReconciliation).Methods("GET")
	api.HandleFunc("/reconciliations/{id:[0-9]+}/ledger", h.SaveLedger).Methods("PUT")
	api.HandleFunc("/reconciliations/{id:[0-9]+}/complete", h.CompleteReconciliation).Methods("POST")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.sendError(w, http.StatusNotFound, "NotFound", "no route for "+r.URL.Path)
	})

	router.Use(loggingMiddleware(h.logger, newHTTPMetrics(reg)))
	if enableCORS {
		router.Use(corsMiddleware)
	}
	api.Use(authMiddleware(h.tokens, h.logger, "/api/v1/login"))
	return router
}
