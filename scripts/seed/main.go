// Command seed loads demo reference data (dentists, services, weekly
// availability, a few patients) into a running API instance. It mints a
// short-lived owner token from AUTH_JWT_SECRET, so it only works against
// an instance whose secret you hold.
//
// Usage: AUTH_JWT_SECRET=... API_URL=http://localhost:8080 go run scripts/seed/main.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) post(path string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, raw)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("POST %s: decode response: %w", path, err)
	}
	return out, nil
}

func mintOwnerToken(secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": "owner",
		"exp":  time.Now().Add(15 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func main() {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_JWT_SECRET is required")
		os.Exit(1)
	}
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	token, err := mintOwnerToken(secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
		os.Exit(1)
	}
	client := &apiClient{baseURL: apiURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}

	dentists := []map[string]any{
		{"first_name": "Elena", "last_name": "Reyes", "email": "e.reyes@novadental.example", "role": "dentist", "specialty": "orthodontics"},
		{"first_name": "Marco", "last_name": "Tan", "email": "m.tan@novadental.example", "role": "dentist", "specialty": "general"},
	}
	var dentistIDs []string
	for _, d := range dentists {
		created, err := client.post("/api/staff", d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed dentist: %v\n", err)
			os.Exit(1)
		}
		id := created["id"].(string)
		dentistIDs = append(dentistIDs, id)
		fmt.Printf("dentist %s %s -> %s\n", d["first_name"], d["last_name"], id)
	}

	services := []map[string]any{
		{"name": "Checkup & Cleaning", "duration_minutes": 30, "price_cents": 150000},
		{"name": "Tooth Extraction", "duration_minutes": 45, "price_cents": 350000},
		{"name": "Root Canal", "duration_minutes": 90, "price_cents": 1200000},
	}
	for _, s := range services {
		created, err := client.post("/api/services", s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed service: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("service %s -> %s\n", s["name"], created["id"])
	}

	// Monday to Friday, 09:00-17:00 for every dentist.
	for _, id := range dentistIDs {
		for weekday := 1; weekday <= 5; weekday++ {
			_, err := client.post("/api/availability", map[string]any{
				"dentist_id": id,
				"weekday":    weekday,
				"start_time": "09:00",
				"end_time":   "17:00",
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "seed availability: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Printf("availability Mon-Fri 09:00-17:00 -> dentist %s\n", id)
	}

	patients := []map[string]any{
		{"first_name": "Mira", "last_name": "Santos", "email": "mira@example.com", "phone": "+63 917 000 0001"},
		{"first_name": "Jon", "last_name": "Dela Cruz", "email": "jon@example.com", "phone": "+63 917 000 0002"},
	}
	for _, p := range patients {
		created, err := client.post("/api/patients", p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed patient: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("patient %s %s -> %s\n", p["first_name"], p["last_name"], created["id"])
	}

	fmt.Println("seed complete")
}
