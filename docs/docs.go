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
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/api/v1/auth/register": {
            "post": {
                "tags": ["账号"],
                "summary": "注册账号",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/registerRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/auth/login": {
            "post": {
                "tags": ["账号"],
                "summary": "登录",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/loginRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/auth/reset-request": {
            "post": {
                "tags": ["账号"],
                "summary": "申请重置密码",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/resetRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/auth/reset": {
            "post": {
                "tags": ["账号"],
                "summary": "重置密码",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/resetPasswordRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["账号"],
                "summary": "当前账号",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["账号"],
                "summary": "编辑资料",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/updateProfileRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["账号"],
                "summary": "注销账号",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/timeline": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["帖子"],
                "summary": "时间线",
                "parameters": [{"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "302": {"description": "page 参数非法时重定向到 page=1"}
                }
            }
        },
        "/api/v1/explore": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["帖子"],
                "summary": "广场",
                "parameters": [{"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/posts": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["帖子"],
                "summary": "发帖",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/createPostRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/posts/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["帖子"],
                "summary": "删帖",
                "parameters": [{"type": "string", "description": "帖子ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/search": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["帖子"],
                "summary": "搜索",
                "parameters": [
                    {"type": "string", "description": "关键词", "name": "q", "in": "query", "required": true},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/users/{username}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["账号"],
                "summary": "用户资料",
                "parameters": [{"type": "string", "description": "用户名", "name": "username", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/users/{username}/posts": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["帖子"],
                "summary": "用户帖子",
                "parameters": [
                    {"type": "string", "description": "用户名", "name": "username", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{username}/follow": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["关系链"],
                "summary": "关注用户",
                "parameters": [{"type": "string", "description": "被关注的用户名", "name": "username", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{username}/unfollow": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["关系链"],
                "summary": "取消关注",
                "parameters": [{"type": "string", "description": "用户名", "name": "username", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{username}/toggle": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["关系链"],
                "summary": "切换关注",
                "parameters": [{"type": "string", "description": "用户名", "name": "username", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{username}/following": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["关系链"],
                "summary": "查询关注列表",
                "parameters": [
                    {"type": "string", "description": "用户名", "name": "username", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"},
                    {"type": "integer", "default": 10, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{username}/followers": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["关系链"],
                "summary": "查询粉丝列表",
                "parameters": [
                    {"type": "string", "description": "用户名", "name": "username", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"},
                    {"type": "integer", "default": 10, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        }
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
            }
        },
        "registerRequest": {
            "type": "object",
            "required": ["email", "password", "username"],
            "properties": {
                "email": {"type": "string", "maxLength": 120},
                "password": {"type": "string", "maxLength": 72, "minLength": 1},
                "username": {"type": "string", "maxLength": 64, "minLength": 1}
            }
        },
        "loginRequest": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {
                "password": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "resetRequest": {
            "type": "object",
            "required": ["email"],
            "properties": {"email": {"type": "string"}}
        },
        "resetPasswordRequest": {
            "type": "object",
            "required": ["password", "token"],
            "properties": {
                "password": {"type": "string", "maxLength": 72, "minLength": 1},
                "token": {"type": "string"}
            }
        },
        "updateProfileRequest": {
            "type": "object",
            "required": ["username"],
            "properties": {
                "about_me": {"type": "string", "maxLength": 140},
                "username": {"type": "string", "maxLength": 64, "minLength": 1}
            }
        },
        "createPostRequest": {
            "type": "object",
            "required": ["body"],
            "properties": {"body": {"type": "string", "maxLength": 140}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Microblog API",
	Description:      "Timeline, explore and full-text search for a small microblog.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
