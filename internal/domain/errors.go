// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrMaxOpenLotsExceeded = errors.New("max open lot runs exceeded")
var ErrProcessTemplateNotFound = errors.New("process template not found")
var ErrTemplateInactive = errors.New("process template is inactive")
var ErrTemplateNameRequired = errors.New("template name is required")
var ErrTemplateNeedsSteps = errors.New("template requires at least one named step")
var ErrTemplateStepOrder = errors.New("template step positions must be dense and unique")
var ErrInvalidAPIKeyName = errors.New("invalid api key name")

var ErrLotTerminal = errors.New("lot run is in a terminal status")
var ErrStepNotPending = errors.New("step run is not pending")
var ErrStepNotInProgress = errors.New("step run is not in progress")
var ErrStepOrderViolation = errors.New("earlier steps are not finished")
var ErrStepNotSkippable = errors.New("step requires quantities and cannot be skipped")
var ErrQuantityConservation = errors.New("output plus scrap exceeds step input")
var ErrSignoffStepsOpen = errors.New("signoff requires all steps finished")
var ErrSignoffNoOutput = errors.New("signoff requires at least one completed step")
var ErrSignoffOpenNC = errors.New("signoff blocked by open non-conformances")
var ErrNCStepNotStarted = errors.New("non-conformance requires a started step")
var ErrNCAlreadyResolved = errors.New("non-conformance already resolved")
var ErrInvalidNCSeverity = errors.New("invalid non-conformance severity")
var ErrNCDescriptionRequired = errors.New("non-conformance description required")
var ErrNCResolutionRequired = errors.New("non-conformance resolution required")

var ErrInvalidQuantity = errors.New("quantity must be positive")
var ErrNegativeStock = errors.New("issue would drive stock negative")
var ErrInvalidPartnerKind = errors.New("invalid partner kind")
var ErrPartnerNameRequired = errors.New("partner name required")
var ErrInvalidItemUnit = errors.New("invalid item unit")
var ErrItemFieldsRequired = errors.New("item sku and name required")
var ErrInvalidMovementKind = errors.New("invalid stock movement kind")
var ErrInvalidPackaging = errors.New("invalid packaging unit for pack plan")
var ErrDuplicateSKU = errors.New("sku already in use")
