// Package validate checks service configurations before installation (Static)
// and reads live manager status and logs after activation (Runtime).
//
// Neither pass returns Go errors for problems with the configuration itself;
// those are reported in Result.
package validate
