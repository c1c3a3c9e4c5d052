/*
 * Copyright (c) 2022-present Sigma-Soft, Ltd.
 * @author: Dmitry Molchanovsky
 */

package pg

import "fmt"

type ParamsType struct {
	Host     string
	Port     int
	User     string
	Pwd      string
	Database string
	SSLMode  string
}

func (p ParamsType) connectionString() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Pwd, p.Database, sslMode,
	)
}
