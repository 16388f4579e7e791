// Copyright (C) 2025 Kairo Labs (oss@kairolabs.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vision

import (
	"fmt"
	"strings"
)

// ContextBlock renders image descriptions into the prompt block appended to
// the user's message. The wording is part of the prompt contract; models are
// steered by the exact bracket phrasing.
//
// # Examples
//
//	ContextBlock([]string{"A cat."})
//	// "\n\n[The user has shared 1 image(s). Here is the visual analysis
//	//  from Sarvam Vision:]\nImage 1:\nA cat."
func ContextBlock(descriptions []string) string {
	if len(descriptions) == 0 {
		return ""
	}
	items := make([]string, len(descriptions))
	for i, desc := range descriptions {
		items[i] = fmt.Sprintf("Image %d:\n%s", i+1, desc)
	}
	return fmt.Sprintf(
		"\n\n[The user has shared %d image(s). Here is the visual analysis from Sarvam Vision:]\n%s",
		len(descriptions),
		strings.Join(items, "\n\n"),
	)
}
