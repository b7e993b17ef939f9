// Package apidocs holds the OpenAPI document for the REST frontend and
// registers it with swag. Regenerate with `swag init -g cmd/inferd/docs.go -o internal/apidocs`.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "description": "200 when the database is connected and a model is loaded, 404 otherwise.",
                "produces": ["text/plain"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Welcome!", "schema": {"type": "string"}},
                    "404": {"description": "Welcome!", "schema": {"type": "string"}}
                }
            }
        },
        "/get-invocation-info/{id}": {
            "get": {
                "description": "Returns the stored input and output for an input id. An unknown id is reported with status 200 and a message.",
                "produces": ["application/json"],
                "tags": ["invocations"],
                "summary": "Get invocation info",
                "parameters": [
                    {"type": "string", "description": "Model input id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.InvocationInfoResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.MessageResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.InvocationInfoResponse": {
            "type": "object",
            "properties": {
                "model_input": {"type": "object", "additionalProperties": true},
                "model_output": {"type": "object", "additionalProperties": true}
            }
        },
        "types.MessageResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "initialized": {"type": "boolean"},
                "model_loaded": {"type": "boolean"},
                "database_connected": {"type": "boolean"},
                "model_source": {"type": "string"},
                "runtime": {"type": "string"},
                "database": {"type": "string"},
                "state": {"type": "string"},
                "uptime_seconds": {"type": "number"},
                "server_time_unix": {"type": "integer"},
                "invocations_total": {"type": "integer"},
                "failures_total": {"type": "integer"},
                "last_error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "inferd API",
	Description:      "REST frontend for the inferd model-inference service.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
