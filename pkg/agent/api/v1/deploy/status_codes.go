package api_v1_deploy

import (
	"net/http"
)

var StatusCodes = []int{
	http.StatusOK,
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusRequestEntityTooLarge,
	http.StatusInternalServerError,
}
