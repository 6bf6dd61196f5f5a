// Package docs registers the OpenAPI document served at /docs.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {"name": "Pricewise"},
        "license": {"name": "MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "CronSecret": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/cron": {
            "get": {
                "security": [{"CronSecret": []}],
                "description": "Refreshes every tracked product, persists new prices and notifies watchers.",
                "produces": ["application/json"],
                "tags": ["reconcile"],
                "summary": "Trigger a reconciliation run",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.RunResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/products": {
            "get": {
                "description": "Returns every tracked product with its price statistics.",
                "produces": ["application/json"],
                "tags": ["products"],
                "summary": "List tracked products",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/handler.ProductView"}}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Fetches the product page, stores it and returns the stored record.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["products"],
                "summary": "Track a product",
                "parameters": [
                    {"description": "Product page URL", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.TrackRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.ProductView"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/products/{id}": {
            "get": {
                "description": "Returns a tracked product with its full price history.",
                "produces": ["application/json"],
                "tags": ["products"],
                "summary": "Get a tracked product",
                "parameters": [
                    {"type": "integer", "description": "Product ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.ProductView"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        },
        "/products/{id}/watchers": {
            "post": {
                "description": "Subscribes an email address to price alerts for a product.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["products"],
                "summary": "Watch a product",
                "parameters": [
                    {"type": "integer", "description": "Product ID", "name": "id", "in": "path", "required": true},
                    {"description": "Subscriber", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.WatchRequest"}}
                ],
                "responses": {
                    "200": {"description": "already subscribed", "schema": {"$ref": "#/definitions/handler.ProductView"}},
                    "201": {"description": "new subscription", "schema": {"$ref": "#/definitions/handler.ProductView"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/respond.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.ProductView": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "url": {"type": "string"},
                "title": {"type": "string"},
                "currency": {"type": "string"},
                "image": {"type": "string"},
                "description": {"type": "string"},
                "current_price": {"type": "string"},
                "original_price": {"type": "string"},
                "in_stock": {"type": "boolean"},
                "price_history": {"type": "array", "items": {"$ref": "#/definitions/product.PriceObservation"}},
                "lowest_price": {"type": "string"},
                "highest_price": {"type": "string"},
                "average_price": {"type": "string"},
                "discount_rate": {"type": "string"},
                "watcher_count": {"type": "integer"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "product.PriceObservation": {
            "type": "object",
            "properties": {
                "price": {"type": "string"},
                "observed_at": {"type": "string"}
            }
        },
        "handler.TrackRequest": {
            "type": "object",
            "properties": {"url": {"type": "string"}}
        },
        "handler.WatchRequest": {
            "type": "object",
            "properties": {"email": {"type": "string"}}
        },
        "handler.RunResponse": {
            "type": "object",
            "properties": {
                "run_id": {"type": "string"},
                "updated_count": {"type": "integer"},
                "notified_count": {"type": "integer"},
                "failures": {"type": "array", "items": {"$ref": "#/definitions/reconcile.Failure"}},
                "duration_ms": {"type": "integer"}
            }
        },
        "reconcile.Failure": {
            "type": "object",
            "properties": {
                "url": {"type": "string"},
                "stage": {"type": "string", "enum": ["fetch", "persist", "dispatch", "timeout"]},
                "reason": {"type": "string"}
            }
        },
        "respond.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string"},
                        "message": {"type": "string"},
                        "detail": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Pricewise API",
	Description:      "Tracks product prices, reconciles them on a schedule and emails watchers about drops, record lows, deep discounts and restocks.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
