// Copyright 2026 The EMVWedge Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apdu

// CommandCase classifies a (CLA, INS) pair into its ISO 7816-3 command
// case:
//
//	case | command data | response data
//	  1  |    absent    |    absent
//	  2  |    absent    |    present
//	  3  |    present   |    absent
//	  4  |    present   |    present
//
// Unknown pairs return 0 and are rejected by every higher operation.
func CommandCase(cla, ins byte) int {
	switch cla {
	case 0x00:
		switch ins {
		case insByteGetResponse:
			return 2
		case insByteReadRecord:
			return 2
		case insByteSelect:
			return 4
		case 0x82: // EXTERNAL AUTHENTICATE
			return 3
		case 0x84: // GET CHALLENGE
			return 2
		case insByteInternalAuth:
			return 4
		case insByteVerify:
			return 3
		}

	case 0x8C, 0x84:
		switch ins {
		case 0x1E: // APPLICATION BLOCK
			return 3
		case 0x18: // APPLICATION UNBLOCK
			return 3
		case 0x16: // CARD BLOCK
			return 3
		case insBytePINChange:
			return 3
		}

	case 0x80:
		switch ins {
		case insByteGenerateAC:
			return 4
		case insByteGetData:
			return 2
		case insByteGPO:
			return 4
		}
	}

	return 0
}

// Case classifies the command's own header.
func (c *Command) Case() int {
	return CommandCase(c.Header.Cla, c.Header.Ins)
}
