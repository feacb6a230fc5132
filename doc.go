// Package gocomet is a client for gocomet publish/subscribe servers.
//
// A Client subscribes to a set of channels and delivers channel updates to
// an application callback. It talks to the server over a websocket when
// possible and falls back to polling HTTP requests when forced to. Lost
// connections are re-established automatically according to a RetryPolicy.
//
//	c, err := gocomet.New(gocomet.Config{
//		Host:     "localhost:8080",
//		Channels: []string{"global"},
//		OnData: func(u gocomet.Update) {
//			fmt.Println(u.Channel, u.Version, u.Data)
//		},
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
// All callbacks are invoked sequentially from a single goroutine owned by
// the Client. Callbacks must not block for long and must not call Close.
package gocomet
