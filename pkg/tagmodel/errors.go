// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of iiot-gateway-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tagmodel

import "fmt"

// ErrorCode is the numeric error taxonomy propagated in tag values and
// write responses. Errors never cross the plugin boundary as Go errors;
// they travel as data so that a bulk write can report one code per tag.
type ErrorCode int32

const (
	// Sentinel: not an error, or code not set.
	ErrNone ErrorCode = 0

	// Config/validation
	ErrTagNameTooLong        ErrorCode = 1001
	ErrTagAddressTooLong     ErrorCode = 1002
	ErrTagDescriptionTooLong ErrorCode = 1003
	ErrTagPrecisionInvalid   ErrorCode = 1004
	ErrTagBiasInvalid        ErrorCode = 1005
	ErrTagDecimalInvalid     ErrorCode = 1006
	ErrTagNotExist           ErrorCode = 1007
	ErrGroupExist            ErrorCode = 1008
	ErrGroupNotExist         ErrorCode = 1009

	// Runtime preconditions
	ErrPluginNotRunning            ErrorCode = 2001
	ErrPluginNotSupportWriteTags   ErrorCode = 2002
	ErrPluginNotSupportReadSync    ErrorCode = 2003
	ErrPluginNotSupportScanTags    ErrorCode = 2004
	ErrPluginNotSupportTestReadTag ErrorCode = 2005
	ErrPluginNotSupportExeAction   ErrorCode = 2006
	ErrPluginNotSupportDirectory   ErrorCode = 2007
	ErrPluginNotSupportFupOpen     ErrorCode = 2008
	ErrPluginNotSupportFupData     ErrorCode = 2009
	ErrPluginNotSupportFdownOpen   ErrorCode = 2010
	ErrPluginNotSupportFdownData   ErrorCode = 2011
	ErrPluginTagNotAllowWrite      ErrorCode = 2012

	// Type/value
	ErrTagTypeMismatch    ErrorCode = 3001
	ErrTagValueOutOfRange ErrorCode = 3002
	ErrTagNotReady        ErrorCode = 3003
	ErrTagValueExpired    ErrorCode = 3004

	// Internal
	ErrInternal ErrorCode = 9001
)

var errorCodeNames = map[ErrorCode]string{
	ErrNone:                        "NONE",
	ErrTagNameTooLong:              "TAG_NAME_TOO_LONG",
	ErrTagAddressTooLong:           "TAG_ADDRESS_TOO_LONG",
	ErrTagDescriptionTooLong:       "TAG_DESCRIPTION_TOO_LONG",
	ErrTagPrecisionInvalid:         "TAG_PRECISION_INVALID",
	ErrTagBiasInvalid:              "TAG_BIAS_INVALID",
	ErrTagDecimalInvalid:           "TAG_DECIMAL_INVALID",
	ErrTagNotExist:                 "TAG_NOT_EXIST",
	ErrGroupExist:                  "GROUP_EXIST",
	ErrGroupNotExist:               "GROUP_NOT_EXIST",
	ErrPluginNotRunning:            "PLUGIN_NOT_RUNNING",
	ErrPluginNotSupportWriteTags:   "PLUGIN_NOT_SUPPORT_WRITE_TAGS",
	ErrPluginNotSupportReadSync:    "PLUGIN_NOT_SUPPORT_READ_SYNC",
	ErrPluginNotSupportScanTags:    "PLUGIN_NOT_SUPPORT_SCAN_TAGS",
	ErrPluginNotSupportTestReadTag: "PLUGIN_NOT_SUPPORT_TEST_READ_TAG",
	ErrPluginNotSupportExeAction:   "PLUGIN_NOT_SUPPORT_EXE_ACTION",
	ErrPluginNotSupportDirectory:   "PLUGIN_NOT_SUPPORT_DIRECTORY",
	ErrPluginNotSupportFupOpen:     "PLUGIN_NOT_SUPPORT_FUP_OPEN",
	ErrPluginNotSupportFupData:     "PLUGIN_NOT_SUPPORT_FUP_DATA",
	ErrPluginNotSupportFdownOpen:   "PLUGIN_NOT_SUPPORT_FDOWN_OPEN",
	ErrPluginNotSupportFdownData:   "PLUGIN_NOT_SUPPORT_FDOWN_DATA",
	ErrPluginTagNotAllowWrite:      "PLUGIN_TAG_NOT_ALLOW_WRITE",
	ErrTagTypeMismatch:             "PLUGIN_TAG_TYPE_MISMATCH",
	ErrTagValueOutOfRange:          "PLUGIN_TAG_VALUE_OUT_OF_RANGE",
	ErrTagNotReady:                 "PLUGIN_TAG_NOT_READY",
	ErrTagValueExpired:             "PLUGIN_TAG_VALUE_EXPIRED",
	ErrInternal:                    "EINTERNAL",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_CODE(%d)", int32(e))
}
