// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cliutil

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/term"
)

// minCHAPSecretLength is RFC 3720's recommendation for the minimum
// length of an iSCSI CHAP secret. RFC 1994 itself leaves the minimum up
// to the protocol built on top of it.
const minCHAPSecretLength = 12

// ResolveCHAPSecret returns a kong.Resolver that prompts for a CHAP
// secret over the controlling terminal (no echo) when a flag tagged
// type:"password" is required but was not given on the command line. A
// secret shorter than minCHAPSecretLength is rejected and re-prompted
// rather than accepted silently, since a short CHAP secret is the one
// part of the exchange RFC 3720 specifically calls out as weak.
func ResolveCHAPSecret(confirm bool) kong.Resolver {
	return kong.ResolverFunc(func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		if flag.Tag.Type != "password" || !flag.Required || flag.Value.Set && !flag.Value.Target.IsZero() {
			return nil, nil
		}
		if flag.Target.Kind() != reflect.String {
			return nil, fmt.Errorf("'password' type must be applied to a string not %s", flag.Target.Type())
		}

		fmt.Printf("No value has been provided for flag `%s`.\n", flag.ShortSummary())
		if flag.Help != "" {
			fmt.Println("Description: " + flag.Help)
		}

		for {
			fmt.Printf("Enter %s: ", strings.ToTitle(flag.Name))
			secret, err := term.ReadPassword(0)
			fmt.Print("\n")
			if err != nil {
				return "", fmt.Errorf("secret could not be read: %w", err)
			}
			val := strings.TrimSpace(string(secret))
			if val == "" {
				return nil, nil
			}
			if len(val) < minCHAPSecretLength {
				fmt.Printf("Secret is shorter than the recommended minimum of %d bytes for a CHAP secret; try again.\n", minCHAPSecretLength)
				continue
			}
			if confirm {
				fmt.Printf("Re-enter %s: ", strings.ToTitle(flag.Name))
				secret2, err := term.ReadPassword(0)
				fmt.Print("\n\n")
				if err != nil {
					return "", fmt.Errorf("secret could not be read: %w", err)
				}
				if val != strings.TrimSpace(string(secret2)) {
					fmt.Println("Secrets do not match. Please try again.")
					continue
				}
			}
			return val, nil
		}
	})
}
