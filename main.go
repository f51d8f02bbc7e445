package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"teletab/internal/ai"
	"teletab/internal/bus"
	"teletab/internal/client"
	"teletab/internal/config"
	"teletab/internal/models"
	"teletab/internal/store/sqlstore"
)

var (
	configPath = flag.String("config", "", "path to yaml config file")
	username   = flag.String("user", "", "username to log in with")
	password   = flag.String("pass", "", "password to log in with")
	register   = flag.Bool("register", false, "register a new account instead of logging in")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Optional .env for GEMINI_API_KEY
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	st, err := sqlstore.New(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	if err := client.Seed(st); err != nil {
		log.Fatal(err)
	}

	// Each process is one simulated tab. The first tab on the machine hosts
	// the bus relay; later tabs find the port taken and dial in instead.
	b := bus.New()
	attachBridge(b, cfg)

	user, err := authenticate(st)
	if err != nil {
		log.Fatal(err)
	}

	aiCfg := ai.DefaultConfig()
	if cfg.AI.BaseURL != "" {
		aiCfg.BaseURL = cfg.AI.BaseURL
	}
	aiCfg.APIKey = cfg.AI.APIKey

	c := client.New(*user, st, b, ai.NewClient(aiCfg), cfg.Heartbeat())
	if err := c.Start(); err != nil {
		log.Fatal(err)
	}
	defer c.Logout()

	// No audio devices on this surface; decline calls politely.
	go func() {
		for from := range c.IncomingCalls() {
			fmt.Printf("\n* incoming call from %s (declined; no audio device)\n> ", from.Username)
			c.RejectCall(from)
		}
	}()

	runShell(c)
}

func attachBridge(b *bus.Bus, cfg *config.Config) {
	if cfg.Bridge.Dial != "" {
		dialBridge(b, cfg.Bridge.Dial)
		return
	}
	if cfg.Bridge.Listen == "" {
		return
	}

	ln, err := net.Listen("tcp", cfg.Bridge.Listen)
	if err != nil {
		// Another tab already hosts the relay; attach to it.
		dialBridge(b, cfg.Bridge.Listen)
		return
	}

	relay := bus.NewRelay()
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Handle("/bus/"+bus.ChannelName, relay)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.Serve(ln, r); err != nil {
			log.Printf("bridge server stopped: %v", err)
		}
	}()

	// The hosting tab also attaches through its own relay so every tab sees
	// the same traffic regardless of who hosts.
	dialBridge(b, cfg.Bridge.Listen)
}

func dialBridge(b *bus.Bus, addr string) {
	url := "ws://" + addr + "/bus/" + bus.ChannelName
	conn, err := bus.Dial(url)
	if err != nil {
		log.Printf("bridge unavailable, staying in-process only: %v", err)
		return
	}
	bus.Connect(b, conn)
}

func authenticate(st *sqlstore.SQLStore) (*models.User, error) {
	name, pass := *username, *password
	reader := bufio.NewReader(os.Stdin)
	if name == "" {
		fmt.Print("username: ")
		line, _ := reader.ReadString('\n')
		name = strings.TrimSpace(line)
	}
	if pass == "" {
		fmt.Print("password: ")
		line, _ := reader.ReadString('\n')
		pass = strings.TrimSpace(line)
	}
	if *register {
		return client.Register(st, name, pass)
	}
	return client.Login(st, name, pass)
}

func runShell(c *client.Client) {
	active := ""
	if ts := c.Threads(); len(ts) > 0 {
		active = ts[0].ID
	}

	fmt.Println("commands: /threads /open <id> /contacts /online /group <name> <user,...> /edit <msgid> <text> /delete <msgid> /quit; anything else sends to the open thread")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/threads":
			for _, t := range c.Threads() {
				marker := " "
				if t.ID == active {
					marker = "*"
				}
				fmt.Printf("%s %-30s %s (%d messages)\n", marker, t.ID, t.Name, len(t.Messages))
			}
		case line == "/contacts":
			users, err := c.Contacts()
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			for _, u := range users {
				fmt.Printf("  %s (%s)\n", u.Username, u.ID)
			}
		case line == "/online":
			for _, u := range c.Tracker.Online() {
				fmt.Printf("  %s\n", u.Username)
			}
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			opened := false
			for _, t := range c.Threads() {
				if t.ID == id {
					active = id
					opened = true
					for _, m := range t.Messages {
						printMessage(m)
					}
				}
			}
			if !opened {
				// Maybe it is a contact to start a direct chat with.
				if users, err := c.Contacts(); err == nil {
					for _, u := range users {
						if strings.EqualFold(u.Username, id) || u.ID == id {
							t := c.OpenDirect(u)
							active = t.ID
							opened = true
						}
					}
				}
			}
			if !opened {
				fmt.Println("no such thread or contact")
			}
		case strings.HasPrefix(line, "/group "):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "/group "))
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /group <name> <userid,userid>")
				break
			}
			t := c.CreateGroup(parts[0], strings.Split(parts[1], ","))
			active = t.ID
			fmt.Println("created", t.ID)
		case strings.HasPrefix(line, "/edit "):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "/edit "))
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: /edit <msgid> <new text>")
				break
			}
			c.EditMessage(parts[0], parts[1])
		case strings.HasPrefix(line, "/delete "):
			c.DeleteMessage(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))
		default:
			if active == "" {
				fmt.Println("no open thread; /open one first")
				break
			}
			if _, err := c.SendMessage(active, line, "", ""); err != nil {
				fmt.Println("error:", err)
			}
		}
		fmt.Print("> ")
	}
}

func printMessage(m models.Message) {
	who := m.SenderName
	if who == "" {
		who = m.Role
	}
	ts := time.UnixMilli(m.Timestamp).Format("15:04")
	text := m.Text
	if m.ImageURL != "" {
		text += " [image]"
	}
	if m.AudioURL != "" {
		text += " [audio]"
	}
	edited := ""
	if m.IsEdited {
		edited = " (edited)"
	}
	fmt.Printf("  [%s] %s: %s%s  <%s>\n", ts, who, text, edited, m.ID)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
