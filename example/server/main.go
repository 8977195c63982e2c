package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	pdfbridge "github.com/pdfbridge-workbench/pdfbridge-go"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {

	http.HandleFunc("/bridge", pdfbridge.NewBridgeHandler(
		pdfbridge.Config{
			AllowedDirectories: []string{"./docs"},
			ResolveLocalPath: func(url string) (string, bool) {
				if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
					return "", false
				}
				return strings.TrimPrefix(url, "file://"), true
			},
			CompressionMethod: pdfbridge.GzipCompression{},
		},
	))
	corsHandler := CORSMiddleware(http.DefaultServeMux)

	fmt.Println("PDF bridge server listening on http://localhost:8080")
	log.Fatal(http.ListenAndServe(":8080", corsHandler))
}
