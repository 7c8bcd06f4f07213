package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the Prometheus scrape endpoint. [Setup] registers
// its exporter with the default Prometheus registry, which this handler
// exposes.
func Handler() http.Handler {
	return promhttp.Handler()
}
