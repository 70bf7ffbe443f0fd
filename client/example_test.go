package client_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/adamwoolhether/hostclient/client"
	"github.com/adamwoolhether/hostclient/client/hostconfig"
)

func ExampleExecutor_Get() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"limit":%q}`, r.URL.Query().Get("limit"))
	}))
	defer ts.Close()

	cfg, err := hostconfig.New(hostconfig.WithHost(ts.URL), hostconfig.WithPoolSize(10))
	if err != nil {
		fmt.Println("config error:", err)
		return
	}

	exec, err := client.New(cfg)
	if err != nil {
		fmt.Println("build error:", err)
		return
	}
	defer exec.Shutdown()

	got, err := exec.Get("/items?limit=5").JSON()
	if err != nil {
		fmt.Println("do error:", err)
		return
	}

	fmt.Println(got["limit"])
	// Output: 5
}

func ExampleDo() {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	cfg, err := hostconfig.New(hostconfig.WithHost(ts.URL))
	if err != nil {
		fmt.Println("config error:", err)
		return
	}

	exec, err := client.New(cfg)
	if err != nil {
		fmt.Println("build error:", err)
		return
	}
	defer exec.Shutdown()

	status, err := client.Do(exec.Post("/jobs").Param("name", "nightly"), client.NoResult())
	if err != nil {
		fmt.Println("do error:", err)
		return
	}

	fmt.Println(status)
	// Output: 202
}
