package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// --- Public endpoints (no auth) ---
	s.echo.GET("/xrpc/_health", s.handleHealth)
	s.echo.GET("/.well-known/did.json", s.handleDIDDocument)
	s.echo.GET("/.well-known/atproto-did", s.handleAtprotoDID)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/xrpc/com.atproto.identity.resolveHandle", s.handleResolveHandle)
	s.echo.GET("/xrpc/com.atproto.server.describeServer", s.handleDescribeServer)
	s.echo.GET("/xrpc/com.atproto.repo.describeRepo", s.handleDescribeRepo)
	s.echo.GET("/xrpc/com.atproto.repo.getRecord", s.handleGetRecord)
	s.echo.GET("/xrpc/com.atproto.repo.listRecords", s.handleListRecords)
	s.echo.GET("/xrpc/com.atproto.sync.getRepo", s.handleGetRepo)
	s.echo.GET("/xrpc/com.atproto.sync.getLatestCommit", s.handleGetLatestCommit)
	s.echo.GET("/xrpc/com.atproto.sync.getBlob", s.handleGetBlob)
	s.echo.GET("/xrpc/com.atproto.sync.subscribeRepos", s.handleSubscribeRepos)

	// --- Write endpoints (access token required) ---
	writes := s.echo.Group("", s.requireAccess)
	writes.POST("/xrpc/com.atproto.repo.createRecord", s.handleCreateRecord)
	writes.POST("/xrpc/com.atproto.repo.putRecord", s.handlePutRecord)
	writes.POST("/xrpc/com.atproto.repo.deleteRecord", s.handleDeleteRecord)
	writes.POST("/xrpc/com.atproto.repo.uploadBlob", s.handleUploadBlob)

	// --- Management API (admin auth required) ---
	admin := s.echo.Group("", s.requireAdmin)
	admin.POST("/xrpc/net.herald.pds.addSubscription", s.handleAddSubscription)
	admin.GET("/xrpc/net.herald.pds.listSubscriptions", s.handleListSubscriptions)
	admin.POST("/xrpc/net.herald.pds.removeSubscription", s.handleRemoveSubscription)
	admin.GET("/xrpc/net.herald.pds.listFollowers", s.handleListFollowers)
	admin.GET("/xrpc/net.herald.pds.listBlobs", s.handleListBlobs)
	admin.POST("/xrpc/net.herald.pds.updateHandle", s.handleUpdateHandle)
	admin.POST("/xrpc/net.herald.pds.updateStatus", s.handleUpdateStatus)
}
