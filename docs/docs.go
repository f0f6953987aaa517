// Package docs registers the OpenAPI description served under /swagger.
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
		"/health": {
			"get": {
				"tags": [
					"system"
				],
				"summary": "Health check",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					}
				}
			}
		},
		"/auth/sign-up": {
			"post": {
				"tags": [
					"auth"
				],
				"summary": "Register operator",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"400": {
						"description": "Bad Request"
					}
				},
				"consumes": [
					"application/json"
				],
				"parameters": [
					{
						"description": "Credentials",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.authCredentials"
						}
					}
				]
			}
		},
		"/auth/sign-in": {
			"post": {
				"tags": [
					"auth"
				],
				"summary": "Obtain a bearer token",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					}
				},
				"consumes": [
					"application/json"
				],
				"parameters": [
					{
						"description": "Credentials",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.authCredentials"
						}
					}
				]
			}
		},
		"/api/v1/magnet/state": {
			"get": {
				"tags": [
					"magnet"
				],
				"summary": "Get magnet state",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					},
					"500": {
						"description": "Internal Server Error"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/field": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Ramp to a field",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"400": {
						"description": "Bad Request"
					},
					"401": {
						"description": "Unauthorized"
					},
					"409": {
						"description": "Conflict"
					},
					"502": {
						"description": "Bad Gateway"
					}
				},
				"consumes": [
					"application/json"
				],
				"parameters": [
					{
						"description": "payload",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.SetFieldRequest"
						}
					}
				],
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/ramp": {
			"get": {
				"tags": [
					"magnet"
				],
				"summary": "Get supervised ramp",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					},
					"404": {
						"description": "Not Found"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/ramp/cancel": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Cancel supervised ramp",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					},
					"409": {
						"description": "Conflict"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/rate": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Set sweep rate",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"400": {
						"description": "Bad Request"
					},
					"401": {
						"description": "Unauthorized"
					},
					"502": {
						"description": "Bad Gateway"
					}
				},
				"consumes": [
					"application/json"
				],
				"parameters": [
					{
						"description": "payload",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.SetRateRequest"
						}
					}
				],
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/pause": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Pause sweep",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					},
					"502": {
						"description": "Bad Gateway"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/zero": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Sweep to zero",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					},
					"409": {
						"description": "Conflict"
					},
					"502": {
						"description": "Bad Gateway"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/quench-reset": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Reset quench condition",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"401": {
						"description": "Unauthorized"
					},
					"502": {
						"description": "Bad Gateway"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/magnet/units": {
			"post": {
				"tags": [
					"magnet"
				],
				"summary": "Set display units",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"400": {
						"description": "Bad Request"
					},
					"401": {
						"description": "Unauthorized"
					},
					"502": {
						"description": "Bad Gateway"
					}
				},
				"consumes": [
					"application/json"
				],
				"parameters": [
					{
						"description": "payload",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.SetUnitsRequest"
						}
					}
				],
				"security": [
					{
						"BearerAuth": []
					}
				]
			}
		},
		"/api/v1/logs": {
			"get": {
				"tags": [
					"logs"
				],
				"summary": "List logs",
				"produces": [
					"application/json"
				],
				"responses": {
					"200": {
						"description": "OK"
					},
					"400": {
						"description": "Bad Request"
					},
					"401": {
						"description": "Unauthorized"
					},
					"500": {
						"description": "Internal Server Error"
					}
				},
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Start of range",
						"name": "from",
						"in": "query"
					},
					{
						"type": "string",
						"description": "End of range",
						"name": "to",
						"in": "query"
					},
					{
						"enum": [
							"RAMP_START",
							"RAMP_DONE",
							"RAMP_BLOCKED",
							"RAMP_CANCEL",
							"RATE_CHANGE",
							"UNITS",
							"PAUSE",
							"ZERO",
							"QUENCH_RESET",
							"ERROR"
						],
						"type": "string",
						"description": "Event type",
						"name": "type",
						"in": "query"
					}
				]
			}
		}
	},
	"definitions": {
		"handlers.authCredentials": {
			"type": "object",
			"required": [
				"password",
				"username"
			],
			"properties": {
				"username": {
					"type": "string"
				},
				"password": {
					"type": "string"
				}
			}
		},
		"handlers.SetFieldRequest": {
			"type": "object",
			"properties": {
				"target_t": {
					"type": "number",
					"example": 2.5
				},
				"block": {
					"type": "boolean",
					"example": true
				}
			}
		},
		"handlers.SetRateRequest": {
			"type": "object",
			"properties": {
				"t_per_min": {
					"type": "number",
					"example": 0.2
				}
			}
		},
		"handlers.SetUnitsRequest": {
			"type": "object",
			"properties": {
				"units": {
					"type": "string",
					"example": "T"
				}
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
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Magnet power supply API",
	Description:      "Ramp control and monitoring for a superconducting magnet supply.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
