package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// Health sidecar for the conversation server. Deployment systems that
// cannot reach the main server port (or that probe before it is up) hit
// this instead. /health and /healthz report sidecar liveness; /readyz
// additionally probes the main server's own health endpoint so load
// balancers only route once the conversation API answers.
func main() {
	addr := flag.String("addr", ":8081", "listen address for the health endpoint")
	target := flag.String("target", "http://127.0.0.1:8080/healthz", "conversation server health URL probed by /readyz")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()

	client := &fasthttp.Client{Name: "convo-health"}

	probe := func() error {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)
		req.SetRequestURI(*target)
		if err := client.DoTimeout(req, resp, 2*time.Second); err != nil {
			return err
		}
		if sc := resp.StatusCode(); sc != fasthttp.StatusOK {
			return fmt.Errorf("conversation server returned %d", sc)
		}
		return nil
	}

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":%q}", *ver))
		case "/readyz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			if err := probe(); err != nil {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"degraded\",\"upstream\":%q}", err.Error()))
				return
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString("{\"status\":\"ok\",\"upstream\":\"ok\"}")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("health endpoint listening on %s (readiness target %s)\n", *addr, *target)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "convo-health",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("health server exit: %v\n", err)
	}
}
