package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Router builds the full HTTP route table and wraps it in CORS
// middleware, following the teacher's mux.NewRouter + rs/cors pairing.
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/chat/completions", g.HandleChatCompletions).Methods("POST")
	r.HandleFunc("/v1/embeddings", g.HandleEmbeddings).Methods("POST")
	r.HandleFunc("/v1/models", g.HandleModels).Methods("GET")
	r.HandleFunc("/health", g.HandleHealth).Methods("GET")
	r.HandleFunc("/v1/stats", g.HandleStats).Methods("GET")

	promReg := prometheus.NewRegistry()
	g.RegisterMetrics(promReg)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return requestIDMiddleware(c.Handler(r))
}
