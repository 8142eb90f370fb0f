// whatsnepd is a development server for the WhatsNep client: the full REST
// API plus the realtime WebSocket endpoint, backed by an in-memory store.
package main

import (
	"flag"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/whatsnep/whatsnep-go/internal/handlers"
	"github.com/whatsnep/whatsnep-go/internal/hub"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	flag.Parse()

	h := hub.New()
	go h.Start()

	api := &handlers.API{Store: handlers.NewStore(), Hub: h}

	app := fiber.New()

	app.Post("/api/auth/register", api.Register)
	app.Post("/api/auth/login", api.Login)

	authed := app.Group("/api", api.Auth)
	authed.Get("/conversations", api.ListConversations)
	authed.Get("/conversations/find", api.FindConversation)
	authed.Post("/conversations", api.CreateConversation)
	authed.Post("/conversations/:id/participants", api.AddParticipants)
	authed.Delete("/conversations/:id", api.DeleteConversation)
	authed.Post("/conversations/:id/read", api.MarkRead)
	authed.Get("/conversations/:id/messages", api.ListMessages)
	authed.Post("/conversations/:id/messages", api.InsertMessage)
	authed.Get("/users/search", api.SearchUsers)
	authed.Post("/users/:id/presence", api.UpdatePresence)

	app.Get("/ws", websocket.New(api.WS))

	log.Printf("whatsnepd listening on %s", *addr)
	if err := app.Listen(*addr); err != nil {
		log.Fatal(err)
	}
}
