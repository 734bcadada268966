package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "auth":
		handleAuth(args)
	case "firm":
		handleFirm(args)
	case "audit":
		handleAudit(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: firmdesk auth <login|logout|who>")
		return
	}

	switch args[0] {
	case "login":
		login(args[1:])
	case "logout":
		logout()
	case "who":
		whoAmI()
	default:
		fmt.Printf("unknown auth command: %s\n", args[0])
	}
}

func handleFirm(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: firmdesk firm <create|suspend|activate|add-admin>")
		return
	}

	switch args[0] {
	case "create":
		createFirm(args[1:])
	case "suspend":
		setFirmStatus(args[1:], "SUSPENDED")
	case "activate":
		setFirmStatus(args[1:], "ACTIVE")
	case "add-admin":
		addAdmin(args[1:])
	default:
		fmt.Printf("unknown firm command: %s\n", args[0])
	}
}

func handleAudit(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: firmdesk audit <list>")
		return
	}

	switch args[0] {
	case "list":
		listAudit(args[1:])
	default:
		fmt.Printf("unknown audit command: %s\n", args[0])
	}
}

func login(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	identifier := fs.String("identifier", "", "email or employee ID")
	firm := fs.String("firm", "", "firm slug (omit for superadmin)")
	password := fs.String("password", "", "password")

	fs.Parse(args)

	if *identifier == "" || *password == "" {
		fmt.Println("Error: identifier and password are required")
		fs.PrintDefaults()
		return
	}

	payload := map[string]string{"identifier": *identifier, "password": *password}
	if *firm != "" {
		payload["firmSlug"] = *firm
	}

	result, status, err := post("/auth/login", payload, false)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status != 200 {
		fmt.Printf("✗ Login failed: %v\n", result["message"])
		return
	}
	if data, ok := result["data"].(map[string]interface{}); ok {
		if token, ok := data["accessToken"].(string); ok {
			saveToken(token)
			fmt.Printf("✓ Logged in as: %s\n", *identifier)
			return
		}
	}
	fmt.Println("✗ Login failed: no token in response")
}

func logout() {
	os.Remove(tokenFile())
	fmt.Println("✓ Logged out")
}

func whoAmI() {
	req, _ := http.NewRequest("GET", getAPIURL()+"/auth/profile", nil)
	addAuthHeader(req)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != 200 {
		fmt.Println("Not logged in")
		return
	}
	if data, ok := result["data"].(map[string]interface{}); ok {
		fmt.Printf("✓ Logged in as %v (role %v)\n", data["userId"], data["role"])
	}
}

func createFirm(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "firm name")
	adminName := fs.String("admin-name", "", "default admin name")
	adminEmail := fs.String("admin-email", "", "default admin email")

	fs.Parse(args)

	if *name == "" || *adminName == "" || *adminEmail == "" {
		fmt.Println("Error: name, admin-name and admin-email are required")
		fs.PrintDefaults()
		return
	}

	result, status, err := post("/superadmin/firms", map[string]string{
		"name":       *name,
		"adminName":  *adminName,
		"adminEmail": *adminEmail,
	}, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	switch status {
	case 201:
		data, _ := result["data"].(map[string]interface{})
		fmt.Printf("✓ Firm created: %v (client %v, admin %v)\n", data["firmId"], data["clientId"], data["adminXId"])
	case 200:
		data, _ := result["data"].(map[string]interface{})
		fmt.Printf("✓ Firm already exists: %v\n", data["firmId"])
	default:
		fmt.Printf("✗ Firm creation failed (%d): %v", status, result["message"])
		if step, ok := result["failureStep"]; ok {
			fmt.Printf(" [step: %v]", step)
		}
		fmt.Println()
	}
}

func setFirmStatus(args []string, status string) {
	if len(args) < 1 {
		fmt.Println("Usage: firmdesk firm suspend|activate <firm-id>")
		return
	}

	payload, _ := json.Marshal(map[string]string{"status": status})
	req, _ := http.NewRequest("PATCH", getAPIURL()+"/superadmin/firms/"+args[0]+"/status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	addAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode == 200 {
		fmt.Printf("✓ Firm %s is now %s\n", args[0], status)
	} else {
		fmt.Printf("✗ Status change failed: %v\n", result["message"])
	}
}

func addAdmin(args []string) {
	fs := flag.NewFlagSet("add-admin", flag.ExitOnError)
	firmID := fs.String("firm-id", "", "firm internal ID")
	name := fs.String("name", "", "admin name")
	email := fs.String("email", "", "admin email")

	fs.Parse(args)

	if *firmID == "" || *name == "" || *email == "" {
		fmt.Println("Error: firm-id, name and email are required")
		fs.PrintDefaults()
		return
	}

	result, status, err := post("/superadmin/firms/"+*firmID+"/admin", map[string]string{
		"name":  *name,
		"email": *email,
	}, true)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if status == 201 {
		data, _ := result["data"].(map[string]interface{})
		fmt.Printf("✓ Admin created: %v (%v)\n", data["xId"], data["email"])
	} else {
		fmt.Printf("✗ Admin creation failed: %v\n", result["message"])
	}
}

func listAudit(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	entityType := fs.String("entity-type", "firm", "target entity type")
	entityID := fs.String("entity-id", "", "target entity ID")

	fs.Parse(args)

	url := getAPIURL() + "/superadmin/audit?entityType=" + *entityType
	if *entityID != "" {
		url += "&entityId=" + *entityID
	}
	req, _ := http.NewRequest("GET", url, nil)
	addAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var result struct {
		Data []map[string]interface{} `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tPERFORMED BY\tTARGET\tAT")
	for _, e := range result.Data {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", e["ActionType"], e["PerformedBy"], e["TargetEntityID"], e["CreatedAt"])
	}
	w.Flush()
}

// post sends a JSON body. Mutating superadmin calls carry an Idempotency-Key.
func post(path string, payload map[string]string, idempotent bool) (map[string]interface{}, int, error) {
	data, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", getAPIURL()+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if idempotent {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	addAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return result, resp.StatusCode, nil
}

func getAPIURL() string {
	if url := os.Getenv("FIRMDESK_API"); url != "" {
		return url
	}
	return "http://localhost:8080/api"
}

func tokenFile() string {
	home, _ := os.UserHomeDir()
	return home + "/.firmdesk/token"
}

func saveToken(token string) error {
	home, _ := os.UserHomeDir()
	os.MkdirAll(home+"/.firmdesk", 0700)
	return os.WriteFile(tokenFile(), []byte(token), 0600)
}

func loadToken() string {
	data, _ := os.ReadFile(tokenFile())
	return string(data)
}

func addAuthHeader(req *http.Request) {
	token := loadToken()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func printUsage() {
	fmt.Print(`FirmDesk CLI

Usage:
  firmdesk <command> [options]

Commands:
  auth   Authentication (login, logout, who)
  firm   Firm operations (create, suspend, activate, add-admin) - superadmin only
  audit  Audit ledger (list) - superadmin only
  help   Show this help message

Environment Variables:
  FIRMDESK_API    API endpoint (default: http://localhost:8080/api)

Examples:
  firmdesk auth login -identifier admin@firmdesk.io -password secret
  firmdesk firm create -name "Acme Legal" -admin-name "Jane Doe" -admin-email jane@acme.com
  firmdesk firm suspend FIRM001
  firmdesk audit list -entity-type firm -entity-id <uuid>
`)
}
