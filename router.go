/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"fmt"
	"path"
	"reflect"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// MessageContext carries one in-flight command through its handler
// chain: the originating Session, the decoded Message, and the
// terminal/abort signals a handler can raise.
type MessageContext struct {
	Session *Session
	Msg     *Message
	handler string
	handled bool
	abort   bool
	err     error
}

// Handled signals the router to stop calling further handlers in the
// chain for this command.
func (c *MessageContext) Handled() {
	c.handled = true
}

// AbortWithError signals the router to stop the chain and log err.
func (c *MessageContext) AbortWithError(err error) {
	c.abort = true
	c.err = err
}

// MessageHandler processes one step of a command's handler chain.
type MessageHandler func(*MessageContext)

// IRouter defines the router/group interface.
type IRouter interface {
	IRoutes
	Group(...MessageHandler) *RouterGroup
}

// IRoutes defines the shared registration interface for Router and
// RouterGroup.
type IRoutes interface {
	Use(...MessageHandler) IRoutes
	Handle(Kind, ...MessageHandler) IRoutes
}

// HandlersChain is an ordered list of MessageHandlers.
type HandlersChain []MessageHandler

// Last returns the chain's final (primary) handler.
func (c HandlersChain) Last() MessageHandler {
	if length := len(c); length > 0 {
		return c[length-1]
	}
	return nil
}

// Router dispatches decoded Messages to the handler chain registered
// for their Kind.
type Router struct {
	logger *logrus.Entry
	RouterGroup
	HandlerMap map[Kind]HandlersChain
}

// NewRouter builds an empty Router logging through logger.
func NewRouter(logger *logrus.Entry) *Router {
	if logger == nil {
		panic("must provide a logger to NewRouter")
	}

	log := logger.WithField("sub-component", "router")
	r := &Router{
		logger:     log,
		HandlerMap: make(map[Kind]HandlersChain),
	}
	r.root = true
	r.router = r
	return r
}

func (router *Router) addHandler(kind Kind, handlers HandlersChain) {
	if kind == "" {
		panic("kind must not be empty")
	}
	if len(handlers) == 0 {
		panic("there must be at least one handler")
	}
	if _, exists := router.HandlerMap[kind]; exists {
		panic(fmt.Sprintf("handler(s) already registered for kind: %s", kind))
	}
	router.HandlerMap[kind] = handlers
}

// Use attaches global middleware run ahead of every command's handler
// chain, the right place for logging or recovering from a handler
// panic before it reaches the session task boundary.
func (router *Router) Use(middleware ...MessageHandler) IRoutes {
	router.RouterGroup.Use(middleware...)
	return router
}

// Handle registers handlers for kind. The last handler is the real
// handler; earlier ones are shared middleware.
func (router *Router) Handle(kind Kind, handlers ...MessageHandler) IRoutes {
	handlers = router.combineHandlers(handlers)
	router.router.addHandler(kind, handlers)
	return router.returnRouter()
}

// HandlerInfo describes one registered route for introspection/logging.
type HandlerInfo struct {
	Kind     Kind
	Handlers []string
}

// HandlersInfo is a slice of HandlerInfo.
type HandlersInfo []HandlerInfo

// RouterGroup is a named set of shared middleware that commands can be
// registered under.
type RouterGroup struct {
	root     bool
	router   *Router
	Handlers HandlersChain
}

func (group *RouterGroup) combineHandlers(handlers HandlersChain) HandlersChain {
	finalSize := len(group.Handlers) + len(handlers)
	merged := make(HandlersChain, finalSize)
	copy(merged, group.Handlers)
	copy(merged[len(group.Handlers):], handlers)
	return merged
}

// Handle registers handlers for kind under this group's middleware.
func (group *RouterGroup) Handle(kind Kind, handlers ...MessageHandler) IRoutes {
	handlers = group.combineHandlers(handlers)
	group.router.addHandler(kind, handlers)
	return group.returnRouter()
}

// Use adds middleware to the group.
func (group *RouterGroup) Use(middleware ...MessageHandler) IRoutes {
	group.Handlers = append(group.Handlers, middleware...)
	return group.returnRouter()
}

func (group *RouterGroup) returnRouter() IRouter {
	if group.root {
		return group.router
	}
	return group
}

// Group creates a sub-group sharing handlers with the parent plus its
// own additional middleware.
func (group *RouterGroup) Group(handlers ...MessageHandler) *RouterGroup {
	if len(handlers) == 0 {
		panic("a group must have at least one handler")
	}
	return &RouterGroup{
		Handlers: group.combineHandlers(handlers),
		router:   group.router,
	}
}

// Handlers lists every registered route for introspection.
func (router *Router) Handlers() HandlersInfo {
	info := make(HandlersInfo, 0, len(router.HandlerMap))
	for kind, handlers := range router.HandlerMap {
		info = append(info, HandlerInfo{Kind: kind, Handlers: getHandlerChain(handlers)})
	}
	return info
}

// PrintHandlers logs the registered routing table at debug level.
func (router *Router) PrintHandlers() {
	handlers := router.Handlers()
	chains := make([]string, 0)
	for i := range handlers {
		if len(handlers[i].Handlers) > 1 {
			chains = append(chains, fmt.Sprintf("| Kind: %s \tHandlers: %s", handlers[i].Kind, strings.Join(handlers[i].Handlers, " -> ")))
			continue
		}
		router.logger.Debugf("| Kind: %s \tHandler: %s", handlers[i].Kind, handlers[i].Handlers[0])
	}
	for i := range chains {
		router.logger.Debug(chains[i])
	}
}

func getHandlerChain(handlers HandlersChain) []string {
	chain := make([]string, 0, len(handlers))
	for i := range handlers {
		chain = append(chain, nameOfFunction(handlers[i]))
	}
	return chain
}

func nameOfFunction(f any) string {
	return path.Base(runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name())
}

// RouteCommand dispatches msg to the handler chain registered for its
// Kind, recycling msg into pool once the chain completes. A Kind with no
// registered handlers, or any command attempted before Active other
// than handshake/login, replies with a structured error rather than
// silently dropping the message.
func (router *Router) RouteCommand(session *Session, msg *Message, pool *MessagePool) {
	defer pool.Recycle(msg)

	log := router.logger.WithField("kind", msg.Kind)

	if state := session.State(); state != StateActive && !preActiveKinds[msg.Kind] {
		code := ErrHandshakeRequired
		if state == StateAwaitingLogin {
			code = ErrNotLoggedIn
		}
		session.ReplyError(NewError(code, "kind", msg.Kind))
		return
	}

	handlers, exists := router.HandlerMap[msg.Kind]
	if !exists {
		session.ReplyError(NewError(ErrInvalidMessageFormat, "reason", "unknown command kind", "kind", msg.Kind))
		log.Warn("command kind not implemented")
		return
	}

	ctx := &MessageContext{Session: session, Msg: msg}

	for i := range handlers {
		ctx.handler = nameOfFunction(handlers[i])
		handlers[i](ctx)
		if ctx.handled {
			return
		}
		if ctx.err != nil {
			log.Warn(fmt.Errorf("error handling command with handler [%s]: %w", ctx.handler, ctx.err))
		}
		if ctx.abort && len(handlers) > 1 {
			log.Debugf("command handler chain aborted at: %s", ctx.handler)
			return
		}
	}
}
