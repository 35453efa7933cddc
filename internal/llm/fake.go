// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "context"

// Fake is a scripted Client for pipeline tests. Responses are consumed
// in order; once exhausted, the last response repeats.
type Fake struct {
	Responses []FakeResponse
	Calls     []FakeCall
	i         int
}

// FakeResponse is one canned reply.
type FakeResponse struct {
	Text string
	Err  error
}

// FakeCall records the arguments of one Chat invocation for assertions.
type FakeCall struct {
	Messages []Message
	Params   Params
}

func (f *Fake) Chat(_ context.Context, messages []Message, params Params) (string, Usage, error) {
	f.Calls = append(f.Calls, FakeCall{Messages: messages, Params: params})
	if len(f.Responses) == 0 {
		return "", Usage{}, nil
	}
	idx := f.i
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	} else {
		f.i++
	}
	r := f.Responses[idx]
	return r.Text, Usage{}, r.Err
}

var _ Client = (*Fake)(nil)
