package httpcfg

import (
	"fmt"
	"html"
	"strings"

	"github.com/picoprov/picoprov/internal/radio"
)

// Canned HTTP responses and page fragments for the configuration surface.
// The page is deliberately self-contained: inline style, inline script,
// no external assets, since the client may have no upstream connectivity
// while joined to the provisioning network.

const htmlHeader = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/html\r\n" +
	"Connection: close\r\n\r\n"

const htmlPageStart = `<!DOCTYPE html><html><head>` +
	`<meta name='viewport' content='width=device-width,initial-scale=1'>` +
	`<title>WiFi Setup</title>` +
	`<style>` +
	`body{font-family:Arial,sans-serif;margin:20px;background:#f0f0f0;}` +
	`h1{color:#333;}` +
	`.container{background:white;padding:20px;border-radius:8px;max-width:600px;margin:0 auto;}` +
	`.network{padding:10px;margin:5px 0;border:1px solid #ddd;border-radius:4px;cursor:pointer;}` +
	`.network:hover{background:#e8f4f8;}` +
	`.signal{float:right;color:#666;}` +
	`input[type=text],input[type=password]{width:100%;padding:10px;margin:8px 0;border:1px solid #ddd;border-radius:4px;box-sizing:border-box;}` +
	`button{background:#4CAF50;color:white;padding:12px 20px;border:none;border-radius:4px;cursor:pointer;width:100%;font-size:16px;}` +
	`button:hover{background:#45a049;}` +
	`.security{color:#666;font-size:0.9em;}` +
	`</style></head><body>` +
	`<div class='container'>` +
	`<h1>WiFi Configuration</h1>` +
	`<p>Select a network or enter credentials manually:</p>`

const htmlForm = `<form method='POST' action='/connect'>` +
	`<label>SSID:</label><input type='text' id='ssid' name='ssid' required>` +
	`<label>Password:</label><input type='password' name='password'>` +
	`<button type='submit'>Connect</button>` +
	`</form>`

const htmlPageEnd = `</div>` +
	`<script>` +
	`function selectNetwork(ssid){document.getElementById('ssid').value=ssid;}` +
	`</script>` +
	`</body></html>`

const htmlSuccess = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/html\r\n" +
	"Connection: close\r\n\r\n" +
	`<!DOCTYPE html><html><head><title>Success</title></head><body>` +
	`<h1>WiFi Configuration Saved</h1>` +
	`<p>The device will now attempt to connect to the specified network.</p>` +
	`<p>This setup page will close shortly.</p>` +
	`</body></html>`

// renderPage builds the full configuration page response, embedding the
// given scan results as clickable entries above the manual-entry form.
func renderPage(results []radio.ScanResult) string {
	var b strings.Builder
	b.WriteString(htmlHeader)
	b.WriteString(htmlPageStart)

	if len(results) > 0 {
		b.WriteString("<h2>Available Networks:</h2>")
		for _, r := range results {
			b.WriteString(networkEntry(r))
		}
	}

	b.WriteString("<h2>Enter Credentials:</h2>")
	b.WriteString(htmlForm)
	b.WriteString(htmlPageEnd)
	return b.String()
}

// networkEntry renders one discovered network as a clickable row that
// populates the manual-entry form.
func networkEntry(r radio.ScanResult) string {
	ssid := html.EscapeString(r.SSID)
	return fmt.Sprintf(
		`<div class='network' onclick='selectNetwork("%s")'>`+
			`%s <span class='signal'>Signal: %d dBm</span><br>`+
			`<span class='security'>%s</span></div>`,
		ssid, ssid, r.RSSI, r.Security)
}
