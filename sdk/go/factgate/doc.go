// Package factgate provides a minimal Go client for the factgate HTTP
// API. It carries its own wire types so importing it does not pull in
// the service internals.
//
// Usage:
//
//	client := factgate.New("http://127.0.0.1:8787", os.Getenv("FACTGATE_SECRET"))
//	resp, err := client.Command(ctx, "what time is it?")
//	resp, err = client.Tool(ctx, "list_files", map[string]any{"path": "src"})
package factgate
