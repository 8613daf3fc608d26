package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"drawdeck/handlers/api/boards"
	"drawdeck/handlers/api/exports"
	"drawdeck/handlers/auth"
	"drawdeck/handlers/websocket"
	authMiddleware "drawdeck/middleware"
	"drawdeck/realtime"
	"drawdeck/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(store stores.Store, engine *realtime.Engine) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v2", func(r chi.Router) {
		// Board CRUD, protected by JWT auth and scoped to the owner.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Route("/boards", func(r chi.Router) {
				r.Post("/", boards.HandleCreate(store))
				r.Get("/", boards.HandleList(store))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", boards.HandleGet(store))
					r.Put("/", boards.HandleUpdate(store, engine))
					r.Put("/shapes", boards.HandleOverwriteShapes(store))
					r.Delete("/", boards.HandleDelete(store, engine))
				})
			})
		})

		// Anonymous export sharing.
		r.Post("/exports", exports.HandleCreate(store))
		r.Get("/exports/{id}", exports.HandleGet(store))

		r.Get("/status", websocket.HandleStatus(engine))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleLogin)
		r.Get("/callback", auth.HandleCallback)
	})

	return r
}

func waitForShutdown(ioo *socketio.Server, writer *realtime.Writer) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-signalC
		close(exit)
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)
	// Flush any debounced writes still pending so the stores hold the
	// latest broadcast state.
	writer.Close()
	os.Exit(0)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	store := stores.GetStore()

	writer := realtime.NewWriter(realtime.DefaultWriteDelay)
	engine := realtime.NewEngine(store, realtime.NewRegistry(), writer)

	r := setupRouter(store, engine)

	ioo := websocket.SetupSocketIO(engine)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(ioo, writer)
}
