package services

import "errors"

var errRepositoryRequired = errors.New("repository is required")
