/*
* Copyright (c) 2022-present unTill Pro, Ltd.
* @author Maxim Geraskin
 */

package iservicesctl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/untillpro/goutils/logger"

	"github.com/voedger/virel/pkg/iservices"
)

type servicesController struct {
	numOfServices int
	wg            sync.WaitGroup
}

// PrepareAndRun prepares every service before running any, so a preparation
// failure leaves nothing to stop.
func (sc *servicesController) PrepareAndRun(ctx context.Context, services map[string]iservices.IService) (join func(ctx context.Context), err error) {
	sc.numOfServices = len(services)

	for name, service := range services {
		if prepareErr := service.Prepare(); prepareErr != nil {
			err = errors.Join(err, fmt.Errorf("service «%s»: %w", name, prepareErr))
		}
	}
	if err != nil {
		return nil, errors.Join(iservices.ErrAtLeastOneServiceFailedToStart, err)
	}

	for name, service := range services {
		sc.wg.Add(1)
		go func(name string, service iservices.IService) {
			defer sc.wg.Done()
			logger.Verbose("service started:", name)
			service.Run(ctx)
			logger.Verbose("service finished:", name)
		}(name, service)
	}

	join = func(ctx context.Context) {
		<-ctx.Done()
		sc.wg.Wait()
	}
	return join, nil
}
