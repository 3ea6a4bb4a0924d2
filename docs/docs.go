// Package docs holds the OpenAPI document served at /swagger.
//
// Regenerate with: swag init -g cmd/visit-tracker/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/visits": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["visits"],
                "summary": "List visits visible to the caller",
                "parameters": [{"type": "string", "description": "Substring of location name, city or notes", "name": "q", "in": "query"}],
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["visits"],
                "summary": "Submit a visit with duplicate and overlap checks",
                "responses": {"201": {"description": "Created"}, "409": {"description": "duplicate_visit or overlap_warning"}}
            }
        },
        "/visits/check": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["visits"],
                "summary": "Dry-run the conflict check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/locations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["locations"],
                "summary": "List locations",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["locations"],
                "summary": "Create a location",
                "responses": {"201": {"description": "Created"}, "409": {"description": "location_exists"}}
            }
        },
        "/locations/search": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["locations"],
                "summary": "Fuzzy location search",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/projects": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["projects"],
                "summary": "List projects",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["recruiters"],
                "summary": "Current profile",
                "responses": {"200": {"description": "OK"}}
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "tags": ["recruiters"],
                "summary": "Edit own name and nickname",
                "responses": {"200": {"description": "OK"}, "400": {"description": "validation_missing"}}
            }
        },
        "/leaderboard": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["recruiters"],
                "summary": "Recruiter leaderboard",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/fletcher/runs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["fletcher"],
                "summary": "List APK checklist runs",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["fletcher"],
                "summary": "Start an APK checklist run",
                "responses": {"201": {"description": "Created"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Visit Tracker API",
	Description:      "Field-sales visit registration with duplicate and overlap detection.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
